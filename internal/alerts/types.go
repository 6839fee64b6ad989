package alerts

import (
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityFor maps a watchlist priority_level onto an alert priority.
// "wanted" outranks everything and lands on critical.
func priorityFor(level string) Priority {
	switch level {
	case "critical", "wanted":
		return PriorityCritical
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// TimeRange is an hour-of-day window, inclusive start, exclusive end.
// Start > End means the range wraps midnight.
type TimeRange struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

func (tr TimeRange) contains(hour int) bool {
	if tr.StartHour <= tr.EndHour {
		return hour >= tr.StartHour && hour < tr.EndHour
	}
	return hour >= tr.StartHour || hour < tr.EndHour
}

// TriggerConditions are the optional predicates of a configurable rule.
// A nil/empty field means the condition is not configured and always holds.
type TriggerConditions struct {
	PersonIDs       []string    `json:"person_ids,omitempty"`
	CameraIDs       []string    `json:"camera_ids,omitempty"`
	ExcludedPersons []string    `json:"excluded_persons,omitempty"`
	TimeRanges      []TimeRange `json:"time_ranges,omitempty"`
	ConfidenceMin   *float64    `json:"confidence_min,omitempty"`
	ConfidenceMax   *float64    `json:"confidence_max,omitempty"`
	LocationIDs     []string    `json:"location_ids,omitempty"`
	Departments     []string    `json:"departments,omitempty"`
	MinAccessLevel  *int        `json:"min_access_level,omitempty"`
	AnyPerson       bool        `json:"any_person,omitempty"`
}

// AlertRule is one configurable evaluation rule.
type AlertRule struct {
	ID                     uuid.UUID         `json:"id"`
	Name                   string            `json:"name"`
	Priority               Priority          `json:"priority"`
	TriggerConditions      TriggerConditions `json:"trigger_conditions"`
	CooldownMinutes        int               `json:"cooldown_minutes"`
	EscalationMinutes      *int              `json:"escalation_minutes,omitempty"`
	AutoResolveMinutes     *int              `json:"auto_resolve_minutes,omitempty"`
	NotificationChannelIDs []uuid.UUID       `json:"notification_channel_ids"`
	NotificationTemplate   string            `json:"notification_template,omitempty"`
	IsActive               bool              `json:"is_active"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusEscalated    AlertStatus = "escalated"
)

// AlertInstance is one triggered alert. Mutation happens only through the
// explicit status transitions on the Evaluator.
type AlertInstance struct {
	ID                uuid.UUID      `json:"id"`
	RuleID            *uuid.UUID     `json:"rule_id,omitempty"` // nil for the built-in rules
	PersonID          string         `json:"person_id"`
	CameraID          string         `json:"camera_id"`
	SightingID        string         `json:"sighting_id,omitempty"`
	Priority          Priority       `json:"priority"`
	Status            AlertStatus    `json:"status"`
	Message           string         `json:"message"`
	TriggerData       map[string]any `json:"trigger_data,omitempty"`
	TriggeredAt       time.Time      `json:"triggered_at"`
	AcknowledgedAt    *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string         `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy        string         `json:"resolved_by,omitempty"`
	EscalatedAt       *time.Time     `json:"escalated_at,omitempty"`
	NotificationCount int            `json:"notification_count"`
}

// PriorityStatus is the data service's answer about one person's watchlist
// standing.
type PriorityStatus struct {
	IsHighPriority        bool     `json:"is_high_priority"`
	PriorityLevel         string   `json:"priority_level,omitempty"` // high | critical | wanted
	AlertReason           string   `json:"alert_reason,omitempty"`
	EscalationChannels    []string `json:"escalation_channels,omitempty"`
	NotificationFrequency string   `json:"notification_frequency,omitempty"` // immediate | daily | weekly
}

type ContactType string

const (
	ContactEmail   ContactType = "email"
	ContactPhone   ContactType = "phone"
	ContactWebhook ContactType = "webhook"
)

// NotificationContact is one reachable person or endpoint.
type NotificationContact struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Type         ContactType `json:"type"`
	Value        string      `json:"value"` // address, phone number or URL
	IsVerified   bool        `json:"is_verified"`
	Priority     int         `json:"priority"`
	AllowedHours *TimeRange  `json:"allowed_hours,omitempty"`
	AllowedDays  []string    `json:"allowed_days,omitempty"` // lowercase weekday names
	MaxPerHour   int         `json:"max_per_hour,omitempty"`
	IsActive     bool        `json:"is_active"`
	PersonID     string      `json:"person_id,omitempty"`
}

// ContactLink is one row of the high_priority_person_contacts linking table.
type ContactLink struct {
	Contact                NotificationContact `json:"contact"`
	EscalationDelayMinutes int                 `json:"escalation_delay_minutes"`
	PriorityOverride       string              `json:"priority_override,omitempty"`
	CustomMessageTemplate  string              `json:"custom_message_template,omitempty"`
}

// available reports whether the contact may be messaged at t.
func (c *NotificationContact) available(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.AllowedHours != nil && !c.AllowedHours.contains(t.Hour()) {
		return false
	}
	if len(c.AllowedDays) > 0 {
		day := weekdayName(t.Weekday())
		ok := false
		for _, d := range c.AllowedDays {
			if d == day {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func weekdayName(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}

// EvaluationResult acknowledges a submitted sighting. The heavy work runs in
// the background; callers only learn whether the sighting was queued.
type EvaluationResult struct {
	Status     string    `json:"status"` // queued | rejected
	SightingID uuid.UUID `json:"sighting_id"`
	Reason     string    `json:"reason,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}
