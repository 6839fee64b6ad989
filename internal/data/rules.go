package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/technosupport/faceguard/internal/alerts"
)

type RuleModel struct {
	DB DBTX
}

// Create inserts a new rule. Trigger conditions ride as JSONB so new
// condition fields never need a migration.
func (m RuleModel) Create(ctx context.Context, r *alerts.AlertRule) error {
	conditions, err := json.Marshal(r.TriggerConditions)
	if err != nil {
		return fmt.Errorf("marshal trigger conditions: %w", err)
	}

	query := `
		INSERT INTO alert_rules (
			name, priority, trigger_conditions, cooldown_minutes,
			escalation_minutes, auto_resolve_minutes,
			notification_channel_ids, notification_template, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		r.Name, r.Priority, conditions, r.CooldownMinutes,
		r.EscalationMinutes, r.AutoResolveMinutes,
		pq.Array(uuidStrings(r.NotificationChannelIDs)), r.NotificationTemplate, r.IsActive,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (m RuleModel) GetByID(ctx context.Context, id uuid.UUID) (*alerts.AlertRule, error) {
	query := ruleSelect + ` WHERE id = $1`
	row := m.DB.QueryRowContext(ctx, query, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (m RuleModel) Update(ctx context.Context, r *alerts.AlertRule) error {
	conditions, err := json.Marshal(r.TriggerConditions)
	if err != nil {
		return fmt.Errorf("marshal trigger conditions: %w", err)
	}

	query := `
		UPDATE alert_rules
		SET name = $1, priority = $2, trigger_conditions = $3, cooldown_minutes = $4,
		    escalation_minutes = $5, auto_resolve_minutes = $6,
		    notification_channel_ids = $7, notification_template = $8, is_active = $9,
		    updated_at = NOW()
		WHERE id = $10
		RETURNING updated_at`

	err = m.DB.QueryRowContext(ctx, query,
		r.Name, r.Priority, conditions, r.CooldownMinutes,
		r.EscalationMinutes, r.AutoResolveMinutes,
		pq.Array(uuidStrings(r.NotificationChannelIDs)), r.NotificationTemplate, r.IsActive,
		r.ID,
	).Scan(&r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

func (m RuleModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns every rule, active first, newest first within each group.
func (m RuleModel) List(ctx context.Context) ([]*alerts.AlertRule, error) {
	query := ruleSelect + ` ORDER BY is_active DESC, created_at DESC`
	return m.queryRules(ctx, query)
}

// ActiveRules returns only rules the evaluator should run.
func (m RuleModel) ActiveRules(ctx context.Context) ([]*alerts.AlertRule, error) {
	query := ruleSelect + ` WHERE is_active ORDER BY created_at`
	return m.queryRules(ctx, query)
}

const ruleSelect = `
	SELECT id, name, priority, trigger_conditions, cooldown_minutes,
	       escalation_minutes, auto_resolve_minutes,
	       notification_channel_ids, notification_template, is_active,
	       created_at, updated_at
	FROM alert_rules`

func (m RuleModel) queryRules(ctx context.Context, query string, args ...any) ([]*alerts.AlertRule, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*alerts.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alerts.AlertRule, error) {
	var r alerts.AlertRule
	var conditions []byte
	var channelIDs []string

	err := row.Scan(
		&r.ID, &r.Name, &r.Priority, &conditions, &r.CooldownMinutes,
		&r.EscalationMinutes, &r.AutoResolveMinutes,
		pq.Array(&channelIDs), &r.NotificationTemplate, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &r.TriggerConditions); err != nil {
			return nil, fmt.Errorf("unmarshal trigger conditions for rule %s: %w", r.ID, err)
		}
	}
	r.NotificationChannelIDs, err = parseUUIDs(channelIDs)
	if err != nil {
		return nil, fmt.Errorf("rule %s channel ids: %w", r.ID, err)
	}
	return &r, nil
}

// uuidStrings converts for pq.Array, which has no []uuid.UUID support.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
