package rule

import (
	"github.com/hashicorp/go-set/v2"
)

// Admit reports whether a chat passes the rule's filters. Exclusion wins:
// a chat carrying any excluded tag is rejected before required tags are
// considered.
func (f Filter) Admit(chat ChatState) bool {
	if len(f.ChatTypes) > 0 {
		ct := ChatIndividual
		if chat.IsGroup {
			ct = ChatGroup
		}
		if !set.From(f.ChatTypes).Contains(ct) {
			return false
		}
	}

	if len(f.ExcludeTags) > 0 {
		excluded := set.From(f.ExcludeTags)
		for _, t := range chat.Tags {
			if excluded.Contains(t) {
				return false
			}
		}
	}
	if len(f.Tags) > 0 && !set.From(chat.Tags).Subset(set.From(f.Tags)) {
		return false
	}
	return true
}
