package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/technosupport/faceguard/internal/delivery"
)

type ChannelModel struct {
	DB DBTX
}

// Create inserts a delivery channel. The type-specific configuration is one
// JSONB column; channelConfig picks the variant that matches Type.
func (m ChannelModel) Create(ctx context.Context, c *delivery.Channel) error {
	cfg, err := channelConfig(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_channels (
			name, type, config, rate_limit_per_minute,
			retry_attempts, timeout_seconds, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query,
		c.Name, c.Type, cfg, c.RateLimitPerMinute,
		c.RetryAttempts, c.TimeoutSeconds, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
}

func (m ChannelModel) GetByID(ctx context.Context, id uuid.UUID) (*delivery.Channel, error) {
	query := channelSelect + ` WHERE id = $1`
	c, err := scanChannel(m.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return c, err
}

func (m ChannelModel) Update(ctx context.Context, c *delivery.Channel) error {
	cfg, err := channelConfig(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_channels
		SET name = $1, type = $2, config = $3, rate_limit_per_minute = $4,
		    retry_attempts = $5, timeout_seconds = $6, is_active = $7
		WHERE id = $8`

	res, err := m.DB.ExecContext(ctx, query,
		c.Name, c.Type, cfg, c.RateLimitPerMinute,
		c.RetryAttempts, c.TimeoutSeconds, c.IsActive,
		c.ID,
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

func (m ChannelModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM notification_channels WHERE id = $1`, id)
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

func (m ChannelModel) List(ctx context.Context) ([]*delivery.Channel, error) {
	return m.queryChannels(ctx, channelSelect+` ORDER BY created_at`)
}

// ChannelsByIDs resolves the channels a rule points at. Unknown ids are
// silently dropped; a rule referencing a deleted channel still fires on the
// rest.
func (m ChannelModel) ChannelsByIDs(ctx context.Context, ids []uuid.UUID) ([]*delivery.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := channelSelect + ` WHERE id = ANY($1) ORDER BY created_at`
	return m.queryChannels(ctx, query, pq.Array(uuidStrings(ids)))
}

// ChannelsByTypes resolves active channels by type, for escalation routing.
func (m ChannelModel) ChannelsByTypes(ctx context.Context, types []string) ([]*delivery.Channel, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := channelSelect + ` WHERE type = ANY($1) AND is_active ORDER BY created_at`
	return m.queryChannels(ctx, query, pq.Array(types))
}

const channelSelect = `
	SELECT id, name, type, config, rate_limit_per_minute,
	       retry_attempts, timeout_seconds, is_active, created_at
	FROM notification_channels`

func (m ChannelModel) queryChannels(ctx context.Context, query string, args ...any) ([]*delivery.Channel, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*delivery.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChannel(row rowScanner) (*delivery.Channel, error) {
	var c delivery.Channel
	var cfg []byte

	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &cfg, &c.RateLimitPerMinute,
		&c.RetryAttempts, &c.TimeoutSeconds, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var dst any
	switch c.Type {
	case delivery.TypeEmail:
		c.Email = &delivery.EmailConfig{}
		dst = c.Email
	case delivery.TypeSMS:
		c.SMS = &delivery.SMSConfig{}
		dst = c.SMS
	case delivery.TypeWebhook:
		c.Webhook = &delivery.WebhookConfig{}
		dst = c.Webhook
	case delivery.TypeWebSocket:
		c.WebSocket = &delivery.WebSocketConfig{}
		dst = c.WebSocket
	default:
		return nil, fmt.Errorf("channel %s: unknown type %q", c.ID, c.Type)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, dst); err != nil {
			return nil, fmt.Errorf("unmarshal config for channel %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func channelConfig(c *delivery.Channel) ([]byte, error) {
	var src any
	switch c.Type {
	case delivery.TypeEmail:
		src = c.Email
	case delivery.TypeSMS:
		src = c.SMS
	case delivery.TypeWebhook:
		src = c.Webhook
	case delivery.TypeWebSocket:
		src = c.WebSocket
	default:
		return nil, fmt.Errorf("unknown channel type %q", c.Type)
	}
	cfg, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("marshal channel config: %w", err)
	}
	return cfg, nil
}
