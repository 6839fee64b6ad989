package delivery

import (
	"time"

	"github.com/google/uuid"
)

type ChannelType string

const (
	TypeEmail     ChannelType = "email"
	TypeSMS       ChannelType = "sms"
	TypeWebhook   ChannelType = "webhook"
	TypeWebSocket ChannelType = "websocket"
)

// EmailConfig, SMSConfig, WebhookConfig and WebSocketConfig are the tagged
// variants of a channel's configuration; exactly one is set, matching Type.
type EmailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	UseTLS   bool   `json:"use_tls"` // direct TLS; otherwise STARTTLS is attempted
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"` // default recipient when the notification has none
}

type SMSConfig struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	APIBase    string `json:"api_base,omitempty"` // provider override, tests point this at a stub
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type WebSocketConfig struct {
	Room string `json:"room"` // alerts | notifications | system | dashboard
}

// Channel is one configured delivery target.
type Channel struct {
	ID                 uuid.UUID   `json:"id"`
	Name               string      `json:"name"`
	Type               ChannelType `json:"type"`
	RateLimitPerMinute int         `json:"rate_limit_per_minute"`
	RetryAttempts      int         `json:"retry_attempts"`
	TimeoutSeconds     int         `json:"timeout_seconds"`
	IsActive           bool        `json:"is_active"`

	Email     *EmailConfig     `json:"email,omitempty"`
	SMS       *SMSConfig       `json:"sms,omitempty"`
	Webhook   *WebhookConfig   `json:"webhook,omitempty"`
	WebSocket *WebSocketConfig `json:"websocket,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (c *Channel) retryBudget() int {
	if c.RetryAttempts > 0 {
		return c.RetryAttempts
	}
	return 3
}

func (c *Channel) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
)

// Record is the audit row for one logical delivery on one channel.
type Record struct {
	ID           uuid.UUID         `json:"id"`
	AlertID      uuid.UUID         `json:"alert_id"`
	ChannelID    uuid.UUID         `json:"channel_id"`
	Status       Status            `json:"status"`
	RetryCount   int               `json:"retry_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ExternalID   string            `json:"external_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Notification is one logical message fanned out across channels.
type Notification struct {
	AlertID    uuid.UUID `json:"alert_id"`
	Priority   string    `json:"priority"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	PersonID   string    `json:"person_id,omitempty"`
	PersonName string    `json:"person_name,omitempty"`
	CameraID   string    `json:"camera_id,omitempty"`
	CameraName string    `json:"camera_name,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Recipient overrides the channel's default target (per-contact routes).
	Recipient string `json:"recipient,omitempty"`

	// CropJPEG, when present, is attached to email deliveries.
	CropJPEG []byte `json:"-"`

	// Payload rides along on webhook and websocket deliveries.
	Payload map[string]any `json:"payload,omitempty"`
}
