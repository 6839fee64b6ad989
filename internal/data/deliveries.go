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

	"github.com/technosupport/faceguard/internal/delivery"
)

type DeliveryModel struct {
	DB DBTX
}

// DeliveryFilter narrows log queries. Zero values mean no filtering.
type DeliveryFilter struct {
	AlertID   uuid.UUID
	ChannelID uuid.UUID
	Status    delivery.Status
	Since     time.Time
	Limit     int
}

// ChannelSummary aggregates delivery outcomes for one channel.
type ChannelSummary struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Sent      int64     `json:"sent"`
	Failed    int64     `json:"failed"`
	Retries   int64     `json:"retries"`
}

// RecordDelivery writes one delivery audit row.
func (m DeliveryModel) RecordDelivery(ctx context.Context, rec *delivery.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal delivery metadata: %w", err)
	}

	query := `
		INSERT INTO delivery_records (
			id, alert_id, channel_id, status, retry_count,
			error_message, external_id, created_at, sent_at, delivered_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = m.DB.ExecContext(ctx, query,
		rec.ID, rec.AlertID, rec.ChannelID, rec.Status, rec.RetryCount,
		nullString(rec.ErrorMessage), nullString(rec.ExternalID),
		rec.CreatedAt, rec.SentAt, rec.DeliveredAt, meta,
	)
	return err
}

func (m DeliveryModel) GetByID(ctx context.Context, id uuid.UUID) (*delivery.Record, error) {
	query := deliverySelect + ` WHERE id = $1`
	rec, err := scanDelivery(m.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Logs returns filtered delivery records, newest first.
func (m DeliveryModel) Logs(ctx context.Context, f DeliveryFilter) ([]*delivery.Record, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.AlertID != uuid.Nil {
		add("alert_id = $%d", f.AlertID)
	}
	if f.ChannelID != uuid.Nil {
		add("channel_id = $%d", f.ChannelID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	query := deliverySelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*delivery.Record
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates outcomes per channel since a point in time.
func (m DeliveryModel) Summary(ctx context.Context, since time.Time) ([]ChannelSummary, error) {
	query := `
		SELECT channel_id,
		       COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')),
		       COUNT(*) FILTER (WHERE status IN ('failed', 'bounced')),
		       COALESCE(SUM(retry_count), 0)
		FROM delivery_records
		WHERE created_at >= $1
		GROUP BY channel_id
		ORDER BY channel_id`

	rows, err := m.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelSummary
	for rows.Next() {
		var s ChannelSummary
		if err := rows.Scan(&s.ChannelID, &s.Sent, &s.Failed, &s.Retries); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const deliverySelect = `
	SELECT id, alert_id, channel_id, status, retry_count,
	       error_message, external_id, created_at, sent_at, delivered_at, metadata
	FROM delivery_records`

func scanDelivery(row rowScanner) (*delivery.Record, error) {
	var rec delivery.Record
	var meta []byte
	var errMsg, extID sql.NullString

	err := row.Scan(
		&rec.ID, &rec.AlertID, &rec.ChannelID, &rec.Status, &rec.RetryCount,
		&errMsg, &extID, &rec.CreatedAt, &rec.SentAt, &rec.DeliveredAt, &meta,
	)
	if err != nil {
		return nil, err
	}
	rec.ErrorMessage = errMsg.String
	rec.ExternalID = extID.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for delivery %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
