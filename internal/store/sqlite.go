package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/rule"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	Rules      *SQLiteRuleRepo
	Chats      *SQLiteChatRepo
	Executions *SQLiteExecutionRepo
	Silences   *SQLiteSilenceRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// in-memory databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log = log.With("component", "store")
	store := &SQLiteStore{
		db:         db,
		Rules:      &SQLiteRuleRepo{db: db, log: log},
		Chats:      &SQLiteChatRepo{db: db},
		Executions: &SQLiteExecutionRepo{db: db},
		Silences:   &SQLiteSilenceRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Automation rules table
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		created_by TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_kind TEXT NOT NULL,
		trigger_config TEXT NOT NULL,
		actions TEXT NOT NULL DEFAULT '[]',
		filters TEXT NOT NULL DEFAULT '{}',
		times_triggered INTEGER NOT NULL DEFAULT 0,
		last_triggered TIMESTAMP,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		next_fire_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled) WHERE enabled = TRUE;
	CREATE INDEX IF NOT EXISTS idx_rules_next_fire ON rules(next_fire_at) WHERE next_fire_at IS NOT NULL;

	-- Chat mirror table
	CREATE TABLE IF NOT EXISTS chats (
		jid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_group BOOLEAN NOT NULL DEFAULT FALSE,
		phone_number TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		unread_count INTEGER NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen_at TIMESTAMP NOT NULL,
		last_inbound_at TIMESTAMP,
		last_outbound_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chats_last_inbound ON chats(last_inbound_at DESC);

	-- Execution audit log
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		chat_jid TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		actions_total INTEGER NOT NULL DEFAULT 0,
		actions_succeeded INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		FOREIGN KEY (rule_id) REFERENCES rules(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_executions_rule ON executions(rule_id, completed_at DESC);

	-- Fired noReply silence windows
	CREATE TABLE IF NOT EXISTS silence_markers (
		rule_id TEXT NOT NULL,
		chat_jid TEXT NOT NULL,
		inbound_at TIMESTAMP NOT NULL,
		fired_at TIMESTAMP NOT NULL,
		PRIMARY KEY (rule_id, chat_jid, inbound_at)
	);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteRuleRepo implements RuleRepository.
type SQLiteRuleRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func (r *SQLiteRuleRepo) Create(ctx context.Context, rl *rule.Rule) error {
	if err := rl.Validate(); err != nil {
		return err
	}
	trigger, actions, filters, err := encodeRule(rl)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules
		(id, created_by, name, description, enabled, trigger_kind, trigger_config, actions, filters,
		 times_triggered, last_triggered, success_count, failure_count, next_fire_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rl.ID.String(), rl.CreatedBy, rl.Name, rl.Description, rl.Enabled,
		string(rl.Trigger.Kind()), trigger, actions, filters,
		rl.Stats.TimesTriggered, rl.Stats.LastTriggered, rl.Stats.SuccessCount, rl.Stats.FailureCount,
		initialNextFire(rl), rl.CreatedAt, rl.UpdatedAt,
	)
	return err
}

func (r *SQLiteRuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*rule.Rule, error) {
	row := r.db.QueryRowContext(ctx, selectRuleColumns+" FROM rules WHERE id = ?", id.String())
	rl, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rl, nil
}

func (r *SQLiteRuleRepo) List(ctx context.Context) ([]*rule.Rule, error) {
	return r.list(ctx, selectRuleColumns+" FROM rules ORDER BY created_at")
}

func (r *SQLiteRuleRepo) ListEnabled(ctx context.Context) ([]*rule.Rule, error) {
	return r.list(ctx, selectRuleColumns+" FROM rules WHERE enabled = TRUE ORDER BY created_at")
}

// list scans rules, skipping rows whose persisted configuration no longer
// decodes. A malformed rule is reported and left out, never a crash.
func (r *SQLiteRuleRepo) list(ctx context.Context, query string) ([]*rule.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*rule.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			r.log.Warn("skipping malformed rule", "error", err)
			continue
		}
		rules = append(rules, rl)
	}
	return rules, rows.Err()
}

// Update rewrites the rule's configuration. Schedule state (next_fire_at) is
// recomputed only when the trigger itself changed; otherwise an edit would
// re-arm a once schedule whose fire instant was already claimed.
func (r *SQLiteRuleRepo) Update(ctx context.Context, rl *rule.Rule) error {
	if err := rl.Validate(); err != nil {
		return err
	}
	trigger, actions, filters, err := encodeRule(rl)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stored []byte
	err = tx.QueryRowContext(ctx, "SELECT trigger_config FROM rules WHERE id = ?", rl.ID.String()).Scan(&stored)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if bytes.Equal(stored, trigger) {
		_, err = tx.ExecContext(ctx, `
			UPDATE rules SET
				name = ?, description = ?, enabled = ?, actions = ?, filters = ?, updated_at = ?
			WHERE id = ?
		`, rl.Name, rl.Description, rl.Enabled, actions, filters, time.Now(), rl.ID.String())
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE rules SET
				name = ?, description = ?, enabled = ?, trigger_kind = ?, trigger_config = ?,
				actions = ?, filters = ?, next_fire_at = ?, updated_at = ?
			WHERE id = ?
		`, rl.Name, rl.Description, rl.Enabled, string(rl.Trigger.Kind()), trigger,
			actions, filters, initialNextFire(rl), time.Now(), rl.ID.String())
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRuleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now(), id.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteRuleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id.String())
	return err
}

func (r *SQLiteRuleRepo) RecordExecution(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	successDelta := 0
	failureDelta := 0
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE rules SET
			times_triggered = times_triggered + 1,
			last_triggered = ?,
			success_count = success_count + ?,
			failure_count = failure_count + ?
		WHERE id = ?
	`, at, successDelta, failureDelta, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteRuleRepo) NextFire(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var next sql.NullTime
	err := r.db.QueryRowContext(ctx, "SELECT next_fire_at FROM rules WHERE id = ?", id.String()).Scan(&next)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return next.Time, nil
}

func (r *SQLiteRuleRepo) ClaimFire(ctx context.Context, id uuid.UUID, prev, next time.Time) (bool, error) {
	var nextVal interface{}
	if !next.IsZero() {
		nextVal = next
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE rules SET next_fire_at = ? WHERE id = ? AND next_fire_at = ?",
		nextVal, id.String(), prev,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const selectRuleColumns = `
	SELECT id, created_by, name, description, enabled, trigger_kind, trigger_config, actions, filters,
	       times_triggered, last_triggered, success_count, failure_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*rule.Rule, error) {
	var (
		rl            rule.Rule
		id            string
		triggerKind   string
		triggerConfig []byte
		actions       []byte
		filters       []byte
		lastTriggered sql.NullTime
	)
	err := row.Scan(
		&id, &rl.CreatedBy, &rl.Name, &rl.Description, &rl.Enabled,
		&triggerKind, &triggerConfig, &actions, &filters,
		&rl.Stats.TimesTriggered, &lastTriggered, &rl.Stats.SuccessCount, &rl.Stats.FailureCount,
		&rl.CreatedAt, &rl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rl.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: bad rule id %q: %v", rule.ErrInvalidRule, id, err)
	}
	rl.Trigger, err = rule.UnmarshalTrigger(triggerConfig)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	rl.Actions, err = rule.UnmarshalActions(actions)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	rl.Filter, err = rule.UnmarshalFilter(filters)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rl.Stats.LastTriggered = &t
	}
	if err := rl.Validate(); err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	return &rl, nil
}

func encodeRule(rl *rule.Rule) (trigger, actions, filters []byte, err error) {
	trigger, err = rule.MarshalTrigger(rl.Trigger)
	if err != nil {
		return nil, nil, nil, err
	}
	actions, err = rule.MarshalActions(rl.Actions)
	if err != nil {
		return nil, nil, nil, err
	}
	filters, err = rule.MarshalFilter(rl.Filter)
	if err != nil {
		return nil, nil, nil, err
	}
	return trigger, actions, filters, nil
}

// initialNextFire computes the persisted fire instant for scheduled rules.
func initialNextFire(rl *rule.Rule) interface{} {
	st, ok := rl.Trigger.(rule.ScheduledTrigger)
	if !ok {
		return nil
	}
	first := st.Schedule.FirstFire(time.Now())
	if first.IsZero() {
		return nil
	}
	return first
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SQLiteChatRepo implements ChatRepository.
type SQLiteChatRepo struct {
	db *sql.DB
}

func (r *SQLiteChatRepo) Upsert(ctx context.Context, chat *Chat) error {
	tags, err := json.Marshal(chat.Tags)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO chats (jid, name, is_group, phone_number, tags, notes, unread_count, archived, blocked,
		                   first_seen_at, last_inbound_at, last_outbound_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			phone_number = excluded.phone_number,
			tags = excluded.tags,
			notes = excluded.notes,
			unread_count = excluded.unread_count,
			archived = excluded.archived,
			blocked = excluded.blocked,
			last_inbound_at = excluded.last_inbound_at,
			last_outbound_at = excluded.last_outbound_at,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		chat.JID, chat.Name, chat.IsGroup, chat.PhoneNumber, string(tags), chat.Notes,
		chat.UnreadCount, chat.Archived, chat.Blocked,
		chat.FirstSeenAt, nullable(chat.LastInboundAt), nullable(chat.LastOutboundAt), time.Now(),
	)
	return err
}

func (r *SQLiteChatRepo) GetByJID(ctx context.Context, jid string) (*Chat, error) {
	row := r.db.QueryRowContext(ctx, selectChatColumns+" FROM chats WHERE jid = ?", jid)
	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *SQLiteChatRepo) List(ctx context.Context, limit int) ([]Chat, error) {
	query := selectChatColumns + " FROM chats ORDER BY last_inbound_at DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// Observe records what one raw message reveals about its chat and reports
// whether the chat had never been seen before.
func (r *SQLiteChatRepo) Observe(ctx context.Context, obs event.ChatObservation) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var jid string
	err = tx.QueryRowContext(ctx, "SELECT jid FROM chats WHERE jid = ?", obs.ChatID).Scan(&jid)
	firstSeen := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	column := "last_inbound_at"
	if obs.FromMe {
		column = "last_outbound_at"
	}

	if firstSeen {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chats (jid, name, is_group, first_seen_at, `+column+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, obs.ChatID, obs.Name, obs.IsGroup, obs.Timestamp, obs.Timestamp, time.Now())
	} else if obs.Name != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE chats SET name = ?, is_group = ?, "+column+" = ?, updated_at = ? WHERE jid = ?",
			obs.Name, obs.IsGroup, obs.Timestamp, time.Now(), obs.ChatID,
		)
	} else {
		// An observation without a push name keeps the stored one.
		_, err = tx.ExecContext(ctx,
			"UPDATE chats SET is_group = ?, "+column+" = ?, updated_at = ? WHERE jid = ?",
			obs.IsGroup, obs.Timestamp, time.Now(), obs.ChatID,
		)
	}
	if err != nil {
		return false, err
	}
	return firstSeen, tx.Commit()
}

func (r *SQLiteChatRepo) AddTag(ctx context.Context, jid, tag string) error {
	return r.mutateTags(ctx, jid, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return tags
			}
		}
		return append(tags, tag)
	})
}

func (r *SQLiteChatRepo) RemoveTag(ctx context.Context, jid, tag string) error {
	return r.mutateTags(ctx, jid, func(tags []string) []string {
		out := tags[:0]
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	})
}

// mutateTags applies fn to the chat's tag set inside a transaction so
// concurrent tag actions cannot lose updates.
func (r *SQLiteChatRepo) mutateTags(ctx context.Context, jid string, fn func([]string) []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT tags FROM chats WHERE jid = ?", jid).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return fmt.Errorf("chat %s has malformed tags: %w", jid, err)
	}

	updated, err := json.Marshal(fn(tags))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE chats SET tags = ?, updated_at = ? WHERE jid = ?", string(updated), time.Now(), jid)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteChatRepo) Tags(ctx context.Context, jid string) ([]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT tags FROM chats WHERE jid = ?", jid).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("chat %s has malformed tags: %w", jid, err)
	}
	return tags, nil
}

func (r *SQLiteChatRepo) Delete(ctx context.Context, jid string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chats WHERE jid = ?", jid)
	return err
}

func (r *SQLiteChatRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&count)
	return count, err
}

const selectChatColumns = `
	SELECT jid, name, is_group, phone_number, tags, notes, unread_count, archived, blocked,
	       first_seen_at, last_inbound_at, last_outbound_at, updated_at`

func scanChat(row rowScanner) (*Chat, error) {
	var (
		chat         Chat
		tags         string
		lastInbound  sql.NullTime
		lastOutbound sql.NullTime
	)
	err := row.Scan(
		&chat.JID, &chat.Name, &chat.IsGroup, &chat.PhoneNumber, &tags, &chat.Notes,
		&chat.UnreadCount, &chat.Archived, &chat.Blocked,
		&chat.FirstSeenAt, &lastInbound, &lastOutbound, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &chat.Tags); err != nil {
		return nil, fmt.Errorf("chat %s has malformed tags: %w", chat.JID, err)
	}
	if lastInbound.Valid {
		chat.LastInboundAt = lastInbound.Time
	}
	if lastOutbound.Valid {
		chat.LastOutboundAt = lastOutbound.Time
	}
	return &chat, nil
}

func nullable(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// SQLiteExecutionRepo implements ExecutionRepository.
type SQLiteExecutionRepo struct {
	db *sql.DB
}

func (r *SQLiteExecutionRepo) Create(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO executions
		(id, rule_id, chat_jid, event_kind, status, actions_total, actions_succeeded, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		exec.ID.String(), exec.RuleID.String(), exec.ChatJID, exec.EventKind, exec.Status,
		exec.ActionsTotal, exec.ActionsSucceeded, exec.Error, exec.StartedAt, exec.CompletedAt,
	)
	return err
}

func (r *SQLiteExecutionRepo) ListByRule(ctx context.Context, ruleID uuid.UUID, limit int) ([]Execution, error) {
	query := `
		SELECT id, rule_id, chat_jid, event_kind, status, actions_total, actions_succeeded, error, started_at, completed_at
		FROM executions
		WHERE rule_id = ?
		ORDER BY completed_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, ruleID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var (
			exec   Execution
			id     string
			ruleID string
		)
		err := rows.Scan(
			&id, &ruleID, &exec.ChatJID, &exec.EventKind, &exec.Status,
			&exec.ActionsTotal, &exec.ActionsSucceeded, &exec.Error, &exec.StartedAt, &exec.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		if exec.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if exec.RuleID, err = uuid.Parse(ruleID); err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// SQLiteSilenceRepo implements SilenceRepository.
type SQLiteSilenceRepo struct {
	db *sql.DB
}

func (r *SQLiteSilenceRepo) Fired(ctx context.Context, ruleID uuid.UUID, chatJID string, inboundAt time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM silence_markers WHERE rule_id = ? AND chat_jid = ? AND inbound_at = ?",
		ruleID.String(), chatJID, inboundAt,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteSilenceRepo) MarkFired(ctx context.Context, ruleID uuid.UUID, chatJID string, inboundAt, firedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO silence_markers (rule_id, chat_jid, inbound_at, fired_at) VALUES (?, ?, ?, ?)",
		ruleID.String(), chatJID, inboundAt, firedAt,
	)
	return err
}
