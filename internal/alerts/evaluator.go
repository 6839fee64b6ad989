package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/delivery"
	"github.com/technosupport/faceguard/internal/sighting"
)

// Synthetic rule ids for the two built-in rules, so their cooldowns key the
// same way configurable rules do.
var (
	basicRuleID        = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highPriorityRuleID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

const (
	// basicCooldown keeps the dashboard readable when the same person sits
	// in front of the same camera.
	basicCooldown = time.Minute

	highPriorityCooldown = 5 * time.Minute

	evaluationQueueDepth = 256
	evaluationTimeout    = 30 * time.Second
	sweepInterval        = 30 * time.Second
)

// Store persists alert state. The notifier backs it with Postgres.
type Store interface {
	CreateAlert(ctx context.Context, a *AlertInstance) error
	GetAlert(ctx context.Context, id uuid.UUID) (*AlertInstance, error)
	UpdateAlert(ctx context.Context, a *AlertInstance) error
	ListAlertsByStatus(ctx context.Context, statuses ...AlertStatus) ([]*AlertInstance, error)
	ActiveRules(ctx context.Context) ([]*AlertRule, error)
}

// PriorityChecker asks the data service whether a person is on the
// high-priority watchlist.
type PriorityChecker interface {
	CheckHighPriority(ctx context.Context, personID string) (*PriorityStatus, error)
}

// ContactSource resolves the per-person contact links.
type ContactSource interface {
	ContactsFor(ctx context.Context, personID string) ([]ContactLink, error)
}

// AttributeSource resolves directory attributes for rules conditioned on
// location, department or access level.
type AttributeSource interface {
	PersonAttributes(ctx context.Context, personID string) (*PersonAttributes, error)
}

// ChannelSource resolves delivery channels for dispatch.
type ChannelSource interface {
	ChannelsByIDs(ctx context.Context, ids []uuid.UUID) ([]*delivery.Channel, error)
	ChannelsByTypes(ctx context.Context, types []string) ([]*delivery.Channel, error)
}

// Dispatcher fans one notification out across channels. Implemented by
// delivery.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []*delivery.Channel, n *delivery.Notification) []*delivery.Record
}

// Broadcaster pushes real-time messages to WebSocket rooms.
type Broadcaster interface {
	Broadcast(room string, message []byte)
}

// LifecyclePublisher receives alert lifecycle events (triggered,
// acknowledged, resolved, escalated) for the event bus.
type LifecyclePublisher interface {
	PublishAlertEvent(ctx context.Context, event string, a *AlertInstance)
}

// Stats is the evaluator's counter snapshot.
type Stats struct {
	Submitted       int64 `json:"submitted"`
	Rejected        int64 `json:"rejected"`
	AlertsCreated   int64 `json:"alerts_created"`
	CooldownSkipped int64 `json:"cooldown_skipped"`
	PriorityErrors  int64 `json:"priority_check_errors"`
}

// Evaluator runs the two built-in business rules plus the configurable rule
// set against every persisted sighting. Evaluate acknowledges immediately;
// the work happens on a small worker pool.
type Evaluator struct {
	store      Store
	priority   PriorityChecker
	contacts   ContactSource
	attributes AttributeSource
	channels   ChannelSource
	dispatcher Dispatcher
	broadcast  Broadcaster
	events     LifecyclePublisher

	cooldowns *cooldownMap
	tasks     chan *sighting.Sighting
	workers   int
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stop      chan struct{}

	statsMu sync.Mutex
	stats   Stats

	contactMu    sync.Mutex
	contactSends map[uuid.UUID][]time.Time

	// now and schedule are swapped in tests.
	now      func() time.Time
	schedule func(d time.Duration, f func())
}

type Deps struct {
	Store      Store
	Priority   PriorityChecker
	Contacts   ContactSource
	Attributes AttributeSource
	Channels   ChannelSource
	Dispatcher Dispatcher
	Broadcast  Broadcaster
	Events     LifecyclePublisher
	Workers    int
}

func NewEvaluator(d Deps) *Evaluator {
	workers := d.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Evaluator{
		store:        d.Store,
		priority:     d.Priority,
		contacts:     d.Contacts,
		attributes:   d.Attributes,
		channels:     d.Channels,
		dispatcher:   d.Dispatcher,
		broadcast:    d.Broadcast,
		events:       d.Events,
		cooldowns:    newCooldownMap(),
		tasks:        make(chan *sighting.Sighting, evaluationQueueDepth),
		workers:      workers,
		stop:         make(chan struct{}),
		contactSends: make(map[uuid.UUID][]time.Time),
		now:          time.Now,
		schedule:     func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Start launches the worker pool and the periodic escalation/auto-resolve
// sweep.
func (e *Evaluator) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.wg.Add(1)
	go e.sweeper()
	log.Printf("Alert evaluator started with %d workers", e.workers)
}

// Stop drains nothing: queued evaluations still in the channel are
// abandoned, matching the fire-and-forget contract.
func (e *Evaluator) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// Submit implements sighting.Evaluator.
func (e *Evaluator) Submit(ctx context.Context, s *sighting.Sighting) {
	e.Evaluate(s)
}

// Evaluate queues a sighting for background evaluation and returns at once.
// A full queue rejects rather than blocks.
func (e *Evaluator) Evaluate(s *sighting.Sighting) EvaluationResult {
	res := EvaluationResult{SightingID: s.ID, QueuedAt: e.now().UTC()}
	select {
	case e.tasks <- s:
		e.statsMu.Lock()
		e.stats.Submitted++
		e.statsMu.Unlock()
		res.Status = "queued"
	default:
		e.statsMu.Lock()
		e.stats.Rejected++
		e.statsMu.Unlock()
		res.Status = "rejected"
		res.Reason = "evaluation queue full"
		log.Printf("[WARN] Evaluation queue full, sighting %s dropped", s.ID)
	}
	return res
}

func (e *Evaluator) Stats() Stats {
	e.statsMu.Lock()
	s := e.stats
	e.statsMu.Unlock()
	s.CooldownSkipped = e.cooldowns.Skipped()
	return s
}

func (e *Evaluator) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case s := <-e.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
			e.evaluate(ctx, s)
			cancel()
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, s *sighting.Sighting) {
	e.runBasicRule(ctx, s)
	e.runHighPriorityRule(ctx, s)
	e.runConfiguredRules(ctx, s)
}

// runBasicRule emits the low-priority dashboard alert every recognized
// person gets.
func (e *Evaluator) runBasicRule(ctx context.Context, s *sighting.Sighting) {
	key := cooldownKey{ruleID: basicRuleID, personID: s.PersonID, cameraID: s.CameraID}
	if !e.cooldowns.Acquire(key, basicCooldown, e.now()) {
		return
	}

	alert := &AlertInstance{
		ID:          uuid.New(),
		PersonID:    s.PersonID,
		CameraID:    s.CameraID,
		SightingID:  s.RemoteID,
		Priority:    PriorityLow,
		Status:      StatusActive,
		Message:     fmt.Sprintf("Person detected: %s at %s", s.PersonID, s.CameraID),
		TriggerData: triggerData(s),
		TriggeredAt: e.now().UTC(),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		log.Printf("[ERROR] Basic alert for %s not persisted: %v", s.PersonID, err)
		return
	}
	e.countCreated()

	e.broadcastAlert("dashboard", alert, s.Confidence)
	e.publish(ctx, "triggered", alert)
}

// runHighPriorityRule consults the watchlist and fans out per-contact when
// the person is flagged. An unreachable priority API degrades to
// not-high-priority.
func (e *Evaluator) runHighPriorityRule(ctx context.Context, s *sighting.Sighting) {
	status, err := e.priority.CheckHighPriority(ctx, s.PersonID)
	if err != nil {
		e.statsMu.Lock()
		e.stats.PriorityErrors++
		e.statsMu.Unlock()
		log.Printf("[WARN] Priority check for %s degraded, treating as normal: %v", s.PersonID, err)
		return
	}
	if status == nil || !status.IsHighPriority {
		return
	}

	key := cooldownKey{ruleID: highPriorityRuleID, personID: s.PersonID, cameraID: s.CameraID}
	if !e.cooldowns.Acquire(key, highPriorityCooldown, e.now()) {
		return
	}

	prio := priorityFor(status.PriorityLevel)
	alert := &AlertInstance{
		ID:         uuid.New(),
		PersonID:   s.PersonID,
		CameraID:   s.CameraID,
		SightingID: s.RemoteID,
		Priority:   prio,
		Status:     StatusActive,
		Message: fmt.Sprintf("High-priority person detected: %s at %s (%s)",
			s.PersonID, s.CameraID, status.AlertReason),
		TriggerData: triggerData(s),
		TriggeredAt: e.now().UTC(),
	}
	alert.TriggerData["priority_level"] = status.PriorityLevel
	alert.TriggerData["alert_reason"] = status.AlertReason
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		log.Printf("[ERROR] High-priority alert for %s not persisted: %v", s.PersonID, err)
		return
	}
	e.countCreated()
	e.publish(ctx, "triggered", alert)

	channels := e.resolveEscalationChannels(ctx, status.EscalationChannels)
	n := e.notificationFor(alert, s)
	sent := 0
	if len(channels) > 0 {
		for _, rec := range e.dispatcher.Dispatch(ctx, channels, n) {
			if rec != nil && rec.Status == delivery.StatusSent {
				sent++
			}
		}
	}

	sent += e.routeContacts(ctx, alert, s, channels)

	alert.NotificationCount = sent
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		log.Printf("[WARN] Alert %s notification count not updated: %v", alert.ID, err)
	}
}

// runConfiguredRules evaluates the operator-defined rule set.
func (e *Evaluator) runConfiguredRules(ctx context.Context, s *sighting.Sighting) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		log.Printf("[WARN] Active rules unavailable: %v", err)
		return
	}
	now := e.now()
	// Directory attributes are fetched once per sighting, and only when an
	// active rule actually conditions on them.
	var attrs *PersonAttributes
	attrsLoaded := false
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.needsAttributes() && !attrsLoaded {
			attrsLoaded = true
			attrs = e.lookupAttributes(ctx, s.PersonID)
		}
		if !rule.Matches(s, attrs, now) {
			continue
		}
		key := cooldownKey{ruleID: rule.ID, personID: s.PersonID, cameraID: s.CameraID}
		if !e.cooldowns.Acquire(key, time.Duration(rule.CooldownMinutes)*time.Minute, now) {
			continue
		}

		ruleID := rule.ID
		alert := &AlertInstance{
			ID:          uuid.New(),
			RuleID:      &ruleID,
			PersonID:    s.PersonID,
			CameraID:    s.CameraID,
			SightingID:  s.RemoteID,
			Priority:    rule.Priority,
			Status:      StatusActive,
			Message:     e.renderMessage(rule.NotificationTemplate, alertFields(s, now)),
			TriggerData: triggerData(s),
			TriggeredAt: now.UTC(),
		}
		if alert.Message == "" {
			alert.Message = fmt.Sprintf("Rule %q matched: %s at %s", rule.Name, s.PersonID, s.CameraID)
		}
		if err := e.store.CreateAlert(ctx, alert); err != nil {
			log.Printf("[ERROR] Alert for rule %s not persisted: %v", rule.ID, err)
			continue
		}
		e.countCreated()
		e.publish(ctx, "triggered", alert)

		channels, err := e.channels.ChannelsByIDs(ctx, rule.NotificationChannelIDs)
		if err != nil {
			log.Printf("[WARN] Channels for rule %s unavailable: %v", rule.ID, err)
			continue
		}
		n := e.notificationFor(alert, s)
		sent := 0
		for _, rec := range e.dispatcher.Dispatch(ctx, channels, n) {
			if rec != nil && rec.Status == delivery.StatusSent {
				sent++
			}
		}
		alert.NotificationCount = sent
		if err := e.store.UpdateAlert(ctx, alert); err != nil {
			log.Printf("[WARN] Alert %s notification count not updated: %v", alert.ID, err)
		}
	}
}

// lookupAttributes asks the data service for directory facts. A failed
// lookup degrades to nil, which leaves directory-conditioned rules unmet.
func (e *Evaluator) lookupAttributes(ctx context.Context, personID string) *PersonAttributes {
	if e.attributes == nil {
		return nil
	}
	attrs, err := e.attributes.PersonAttributes(ctx, personID)
	if err != nil {
		log.Printf("[WARN] Attribute lookup for %s degraded, directory conditions treated as unmet: %v", personID, err)
		return nil
	}
	return attrs
}

// routeContacts dispatches per-contact notifications, honoring escalation
// delays, availability windows and hourly caps. Returns the number of
// immediate sends that succeeded.
func (e *Evaluator) routeContacts(ctx context.Context, alert *AlertInstance, s *sighting.Sighting, channels []*delivery.Channel) int {
	links, err := e.contacts.ContactsFor(ctx, s.PersonID)
	if err != nil {
		log.Printf("[WARN] Contact links for %s unavailable: %v", s.PersonID, err)
		return 0
	}

	sent := 0
	for _, link := range links {
		link := link
		if !link.Contact.available(e.now()) {
			continue
		}
		if !e.allowContactSend(&link.Contact) {
			log.Printf("[WARN] Contact %s over hourly cap, skipping", link.Contact.ID)
			continue
		}
		if link.EscalationDelayMinutes <= 0 {
			if e.dispatchContact(ctx, alert, s, link) {
				sent++
			}
			continue
		}
		delay := time.Duration(link.EscalationDelayMinutes) * time.Minute
		alertID := alert.ID
		e.schedule(delay, func() {
			dctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
			defer cancel()
			current, err := e.store.GetAlert(dctx, alertID)
			if err != nil {
				log.Printf("[WARN] Scheduled contact dispatch: alert %s lookup failed: %v", alertID, err)
				return
			}
			// Handled alerts do not escalate to delayed contacts.
			if current.Status == StatusAcknowledged || current.Status == StatusResolved {
				return
			}
			e.dispatchContact(dctx, current, s, link)
		})
	}
	return sent
}

func (e *Evaluator) dispatchContact(ctx context.Context, alert *AlertInstance, s *sighting.Sighting, link ContactLink) bool {
	ch := e.channelForContact(ctx, link.Contact)
	if ch == nil {
		log.Printf("[WARN] No %s channel configured for contact %s", link.Contact.Type, link.Contact.ID)
		return false
	}

	n := e.notificationFor(alert, s)
	n.Recipient = link.Contact.Value
	if link.PriorityOverride != "" {
		n.Priority = link.PriorityOverride
	}
	if link.CustomMessageTemplate != "" {
		n.Message = e.renderMessage(link.CustomMessageTemplate, alertFields(s, alert.TriggeredAt))
	}

	rec := e.dispatcher.Dispatch(ctx, []*delivery.Channel{ch}, n)
	return len(rec) == 1 && rec[0] != nil && rec[0].Status == delivery.StatusSent
}

// channelForContact picks the first active channel matching the contact's
// medium.
func (e *Evaluator) channelForContact(ctx context.Context, c NotificationContact) *delivery.Channel {
	var want string
	switch c.Type {
	case ContactEmail:
		want = string(delivery.TypeEmail)
	case ContactPhone:
		want = string(delivery.TypeSMS)
	case ContactWebhook:
		want = string(delivery.TypeWebhook)
	default:
		return nil
	}
	channels, err := e.channels.ChannelsByTypes(ctx, []string{want})
	if err != nil || len(channels) == 0 {
		return nil
	}
	return channels[0]
}

func (e *Evaluator) resolveEscalationChannels(ctx context.Context, names []string) []*delivery.Channel {
	if len(names) == 0 {
		names = []string{"sms", "email", "dashboard"}
	}
	types := make([]string, 0, len(names))
	for _, name := range names {
		// The watchlist says "dashboard"; the channel table says "websocket".
		if name == "dashboard" {
			name = string(delivery.TypeWebSocket)
		}
		types = append(types, name)
	}
	channels, err := e.channels.ChannelsByTypes(ctx, types)
	if err != nil {
		log.Printf("[WARN] Escalation channels %v unavailable: %v", types, err)
		return nil
	}
	return channels
}

func (e *Evaluator) allowContactSend(c *NotificationContact) bool {
	if c.MaxPerHour <= 0 {
		return true
	}
	now := e.now()
	cutoff := now.Add(-time.Hour)
	e.contactMu.Lock()
	defer e.contactMu.Unlock()

	kept := e.contactSends[c.ID][:0]
	for _, t := range e.contactSends[c.ID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= c.MaxPerHour {
		e.contactSends[c.ID] = kept
		return false
	}
	e.contactSends[c.ID] = append(kept, now)
	return true
}

func (e *Evaluator) notificationFor(alert *AlertInstance, s *sighting.Sighting) *delivery.Notification {
	return &delivery.Notification{
		AlertID:    alert.ID,
		Priority:   string(alert.Priority),
		Subject:    fmt.Sprintf("FaceGuard %s alert: %s", alert.Priority, s.PersonID),
		Message:    alert.Message,
		PersonID:   s.PersonID,
		CameraID:   s.CameraID,
		Confidence: s.Confidence,
		Timestamp:  alert.TriggeredAt,
	}
}

func (e *Evaluator) broadcastAlert(room string, alert *AlertInstance, confidence float64) {
	if e.broadcast == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":      "alert_notification",
		"alert_id":  alert.ID.String(),
		"timestamp": alert.TriggeredAt.Format(time.RFC3339),
		"priority":  string(alert.Priority),
		"data": map[string]any{
			"message":    alert.Message,
			"person_id":  alert.PersonID,
			"camera_id":  alert.CameraID,
			"confidence": confidence,
		},
	})
	if err != nil {
		return
	}
	e.broadcast.Broadcast(room, msg)
}

func (e *Evaluator) publish(ctx context.Context, event string, alert *AlertInstance) {
	if e.events != nil {
		e.events.PublishAlertEvent(ctx, event, alert)
	}
}

func (e *Evaluator) countCreated() {
	e.statsMu.Lock()
	e.stats.AlertsCreated++
	e.statsMu.Unlock()
}

// renderMessage fills {person_name}, {camera_location}, {confidence} and
// {timestamp} placeholders in operator templates.
func (e *Evaluator) renderMessage(template string, fields map[string]string) string {
	if template == "" {
		return ""
	}
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func alertFields(s *sighting.Sighting, at time.Time) map[string]string {
	return map[string]string{
		"person_name":     s.PersonID,
		"camera_location": s.CameraID,
		"confidence":      fmt.Sprintf("%.0f%%", s.Confidence*100),
		"timestamp":       at.UTC().Format(time.RFC3339),
	}
}

func triggerData(s *sighting.Sighting) map[string]any {
	return map[string]any{
		"confidence":    s.Confidence,
		"quality_score": s.QualityScore,
		"source":        string(s.Source),
		"frame_number":  s.FrameNumber,
	}
}
