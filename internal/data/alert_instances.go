package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/technosupport/faceguard/internal/alerts"
)

type AlertModel struct {
	DB DBTX
}

// AlertFilter narrows history queries. Zero values mean no filtering.
type AlertFilter struct {
	Status   alerts.AlertStatus
	Priority alerts.Priority
	PersonID string
	CameraID string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// CreateAlert inserts a triggered alert.
func (m AlertModel) CreateAlert(ctx context.Context, a *alerts.AlertInstance) error {
	trigger, err := json.Marshal(a.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO alert_instances (
			rule_id, person_id, camera_id, sighting_id,
			priority, status, message, trigger_data,
			triggered_at, notification_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		a.RuleID, a.PersonID, a.CameraID, nullString(a.SightingID),
		a.Priority, a.Status, a.Message, trigger,
		a.TriggeredAt, a.NotificationCount,
	).Scan(&a.ID)
}

func (m AlertModel) GetAlert(ctx context.Context, id uuid.UUID) (*alerts.AlertInstance, error) {
	query := alertSelect + ` WHERE id = $1`
	a, err := scanAlert(m.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return a, err
}

// UpdateAlert persists lifecycle fields. Identity columns never change after
// insert, so only status and its timestamps are written back.
func (m AlertModel) UpdateAlert(ctx context.Context, a *alerts.AlertInstance) error {
	query := `
		UPDATE alert_instances
		SET status = $1, priority = $2,
		    acknowledged_at = $3, acknowledged_by = $4,
		    resolved_at = $5, resolved_by = $6,
		    escalated_at = $7, notification_count = $8
		WHERE id = $9`

	res, err := m.DB.ExecContext(ctx, query,
		a.Status, a.Priority,
		a.AcknowledgedAt, nullString(a.AcknowledgedBy),
		a.ResolvedAt, nullString(a.ResolvedBy),
		a.EscalatedAt, a.NotificationCount,
		a.ID,
	)
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

// ListAlertsByStatus returns alerts in any of the given states, oldest first,
// for the escalation sweep.
func (m AlertModel) ListAlertsByStatus(ctx context.Context, statuses ...alerts.AlertStatus) ([]*alerts.AlertInstance, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}
	query := alertSelect + ` WHERE status = ANY($1) ORDER BY triggered_at`
	return m.queryAlerts(ctx, query, pq.Array(raw))
}

// History returns filtered alerts, newest first.
func (m AlertModel) History(ctx context.Context, f AlertFilter) ([]*alerts.AlertInstance, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.PersonID != "" {
		add("person_id = $%d", f.PersonID)
	}
	if f.CameraID != "" {
		add("camera_id = $%d", f.CameraID)
	}
	if !f.Since.IsZero() {
		add("triggered_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("triggered_at < $%d", f.Until)
	}

	query := alertSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return m.queryAlerts(ctx, query, args...)
}

const alertSelect = `
	SELECT id, rule_id, person_id, camera_id, sighting_id,
	       priority, status, message, trigger_data,
	       triggered_at, acknowledged_at, acknowledged_by,
	       resolved_at, resolved_by, escalated_at, notification_count
	FROM alert_instances`

func (m AlertModel) queryAlerts(ctx context.Context, query string, args ...any) ([]*alerts.AlertInstance, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*alerts.AlertInstance
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*alerts.AlertInstance, error) {
	var a alerts.AlertInstance
	var trigger []byte
	var sightingID, ackBy, resolvedBy sql.NullString

	err := row.Scan(
		&a.ID, &a.RuleID, &a.PersonID, &a.CameraID, &sightingID,
		&a.Priority, &a.Status, &a.Message, &trigger,
		&a.TriggeredAt, &a.AcknowledgedAt, &ackBy,
		&a.ResolvedAt, &resolvedBy, &a.EscalatedAt, &a.NotificationCount,
	)
	if err != nil {
		return nil, err
	}
	a.SightingID = sightingID.String
	a.AcknowledgedBy = ackBy.String
	a.ResolvedBy = resolvedBy.String
	if len(trigger) > 0 {
		if err := json.Unmarshal(trigger, &a.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger data for alert %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
