package rule

import (
	"encoding/json"
	"fmt"
	"time"
)

// Triggers and actions persist as type-tagged JSON envelopes. Durations use
// the units the original document fields carried: noReplyTimeout in minutes,
// delay in seconds.

type scheduleJSON struct {
	Time   time.Time  `json:"time"`
	Repeat RepeatMode `json:"repeat"`
	Days   []int      `json:"days,omitempty"`
}

type triggerJSON struct {
	Type            TriggerKind   `json:"type"`
	Keywords        []string      `json:"keywords,omitempty"`
	Schedule        *scheduleJSON `json:"schedule,omitempty"`
	NoReplyTimeout  int           `json:"noReplyTimeout,omitempty"`
	CustomCondition string        `json:"customCondition,omitempty"`
}

type actionJSON struct {
	Type         ActionKind `json:"type"`
	Message      string     `json:"message,omitempty"`
	MediaURL     string     `json:"mediaUrl,omitempty"`
	MediaType    MediaType  `json:"mediaType,omitempty"`
	MediaCaption string     `json:"mediaCaption,omitempty"`
	Tag          string     `json:"tag,omitempty"`
	WebhookURL   string     `json:"webhookUrl,omitempty"`
	Delay        int        `json:"delay,omitempty"`
}

// MarshalTrigger encodes a trigger into its persisted envelope.
func MarshalTrigger(t Trigger) ([]byte, error) {
	env := triggerJSON{Type: t.Kind()}
	switch tr := t.(type) {
	case KeywordTrigger:
		env.Keywords = tr.Keywords
	case NewChatTrigger:
	case ScheduledTrigger:
		days := make([]int, 0, len(tr.Schedule.Days))
		for _, d := range tr.Schedule.Days {
			days = append(days, int(d))
		}
		env.Schedule = &scheduleJSON{Time: tr.Schedule.Time, Repeat: tr.Schedule.Repeat, Days: days}
	case NoReplyTrigger:
		env.NoReplyTimeout = int(tr.Timeout / time.Minute)
	case CustomTrigger:
		env.CustomCondition = tr.Condition
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRule, t.Kind())
	}
	return json.Marshal(env)
}

// UnmarshalTrigger decodes a persisted trigger envelope. Unknown kinds and
// malformed payloads yield ErrInvalidRule so callers can skip the rule.
func UnmarshalTrigger(data []byte) (Trigger, error) {
	var env triggerJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	switch env.Type {
	case TriggerKeyword:
		return KeywordTrigger{Keywords: env.Keywords}, nil
	case TriggerNewChat:
		return NewChatTrigger{}, nil
	case TriggerScheduled:
		if env.Schedule == nil {
			return nil, fmt.Errorf("%w: scheduled trigger without a schedule", ErrInvalidRule)
		}
		days := make([]time.Weekday, 0, len(env.Schedule.Days))
		for _, d := range env.Schedule.Days {
			days = append(days, time.Weekday(d))
		}
		return ScheduledTrigger{Schedule: Schedule{
			Time:   env.Schedule.Time,
			Repeat: env.Schedule.Repeat,
			Days:   days,
		}}, nil
	case TriggerNoReply:
		return NoReplyTrigger{Timeout: time.Duration(env.NoReplyTimeout) * time.Minute}, nil
	case TriggerCustom:
		return CustomTrigger{Condition: env.CustomCondition}, nil
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRule, env.Type)
	}
}

// MarshalActions encodes an ordered action list.
func MarshalActions(actions []Action) ([]byte, error) {
	envs := make([]actionJSON, 0, len(actions))
	for _, a := range actions {
		env := actionJSON{Type: a.Kind()}
		switch act := a.(type) {
		case SendMessageAction:
			env.Message = act.Text
		case SendMediaAction:
			env.MediaURL = act.URL
			env.MediaType = act.Type
			env.MediaCaption = act.Caption
		case AddTagAction:
			env.Tag = act.Tag
		case RemoveTagAction:
			env.Tag = act.Tag
		case WebhookAction:
			env.WebhookURL = act.URL
		case DelayAction:
			env.Delay = int(act.Duration / time.Second)
		default:
			return nil, fmt.Errorf("%w: unknown action kind %q", ErrInvalidRule, a.Kind())
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// UnmarshalActions decodes a persisted action list, preserving order.
func UnmarshalActions(data []byte) ([]Action, error) {
	var envs []actionJSON
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	actions := make([]Action, 0, len(envs))
	for _, env := range envs {
		switch env.Type {
		case ActionSendMessage:
			actions = append(actions, SendMessageAction{Text: env.Message})
		case ActionSendMedia:
			actions = append(actions, SendMediaAction{URL: env.MediaURL, Type: env.MediaType, Caption: env.MediaCaption})
		case ActionAddTag:
			actions = append(actions, AddTagAction{Tag: env.Tag})
		case ActionRemoveTag:
			actions = append(actions, RemoveTagAction{Tag: env.Tag})
		case ActionWebhook:
			actions = append(actions, WebhookAction{URL: env.WebhookURL})
		case ActionDelay:
			actions = append(actions, DelayAction{Duration: time.Duration(env.Delay) * time.Second})
		default:
			return nil, fmt.Errorf("%w: unknown action kind %q", ErrInvalidRule, env.Type)
		}
	}
	return actions, nil
}

// MarshalFilter encodes a rule filter.
func MarshalFilter(f Filter) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFilter decodes a rule filter.
func UnmarshalFilter(data []byte) (Filter, error) {
	var f Filter
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return f, nil
}
