package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/delivery"
)

var ErrRecordNotFound = errors.New("record not found")

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles the notifier's repositories around one handle.
type Models struct {
	Rules      RuleModel
	Channels   ChannelModel
	Alerts     AlertModel
	Deliveries DeliveryModel
}

func NewModels(db DBTX) Models {
	return Models{
		Rules:      RuleModel{DB: db},
		Channels:   ChannelModel{DB: db},
		Alerts:     AlertModel{DB: db},
		Deliveries: DeliveryModel{DB: db},
	}
}

// Store flattens the repositories into the surface the alert evaluator and
// the delivery engine consume.
type Store struct {
	Models
}

func NewStore(db DBTX) *Store {
	return &Store{Models: NewModels(db)}
}

func (s *Store) CreateAlert(ctx context.Context, a *alerts.AlertInstance) error {
	return s.Alerts.CreateAlert(ctx, a)
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*alerts.AlertInstance, error) {
	return s.Alerts.GetAlert(ctx, id)
}

func (s *Store) UpdateAlert(ctx context.Context, a *alerts.AlertInstance) error {
	return s.Alerts.UpdateAlert(ctx, a)
}

func (s *Store) ListAlertsByStatus(ctx context.Context, statuses ...alerts.AlertStatus) ([]*alerts.AlertInstance, error) {
	return s.Alerts.ListAlertsByStatus(ctx, statuses...)
}

func (s *Store) ActiveRules(ctx context.Context) ([]*alerts.AlertRule, error) {
	return s.Rules.ActiveRules(ctx)
}

func (s *Store) ChannelsByIDs(ctx context.Context, ids []uuid.UUID) ([]*delivery.Channel, error) {
	return s.Channels.ChannelsByIDs(ctx, ids)
}

func (s *Store) ChannelsByTypes(ctx context.Context, types []string) ([]*delivery.Channel, error) {
	return s.Channels.ChannelsByTypes(ctx, types)
}

func (s *Store) RecordDelivery(ctx context.Context, rec *delivery.Record) error {
	return s.Deliveries.RecordDelivery(ctx, rec)
}
