package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/delivery"
)

// ErrBadTransition reports an alert status change the lifecycle does not
// allow.
type ErrBadTransition struct {
	From AlertStatus
	To   AlertStatus
}

func (e *ErrBadTransition) Error() string {
	return fmt.Sprintf("alert transition %s -> %s not allowed", e.From, e.To)
}

// Acknowledge moves an active or escalated alert to acknowledged.
func (e *Evaluator) Acknowledge(ctx context.Context, id uuid.UUID, by string) (*AlertInstance, error) {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != StatusActive && alert.Status != StatusEscalated {
		return nil, &ErrBadTransition{From: alert.Status, To: StatusAcknowledged}
	}

	now := e.now().UTC()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	e.publish(ctx, "acknowledged", alert)
	e.broadcastLifecycle(alert, "alert_acknowledged", map[string]any{"acknowledged_by": by})
	return alert, nil
}

// Resolve closes an alert from any non-resolved state.
func (e *Evaluator) Resolve(ctx context.Context, id uuid.UUID, by string) (*AlertInstance, error) {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == StatusResolved {
		return nil, &ErrBadTransition{From: alert.Status, To: StatusResolved}
	}

	now := e.now().UTC()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = by
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	e.publish(ctx, "resolved", alert)
	e.broadcastLifecycle(alert, "alert_resolved", map[string]any{"resolved_by": by})
	return alert, nil
}

func (e *Evaluator) sweeper() {
	defer e.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
			e.RunSweep(ctx)
			cancel()
		}
	}
}

// RunSweep performs one escalation and auto-resolve pass. Exported so the
// control surface can force a sweep.
func (e *Evaluator) RunSweep(ctx context.Context) {
	now := e.now()
	e.cooldowns.Prune(now)

	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		log.Printf("[WARN] Sweep skipped, rules unavailable: %v", err)
		return
	}
	byID := make(map[uuid.UUID]*AlertRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	alerts, err := e.store.ListAlertsByStatus(ctx, StatusActive, StatusAcknowledged, StatusEscalated)
	if err != nil {
		log.Printf("[WARN] Sweep skipped, alerts unavailable: %v", err)
		return
	}

	for _, alert := range alerts {
		if alert.RuleID == nil {
			continue
		}
		rule, ok := byID[*alert.RuleID]
		if !ok {
			continue
		}
		if alert.Status == StatusActive && rule.EscalationMinutes != nil {
			deadline := alert.TriggeredAt.Add(time.Duration(*rule.EscalationMinutes) * time.Minute)
			if !deadline.After(now) {
				e.escalate(ctx, alert, rule)
				continue
			}
		}
		if rule.AutoResolveMinutes != nil {
			deadline := alert.TriggeredAt.Add(time.Duration(*rule.AutoResolveMinutes) * time.Minute)
			if !deadline.After(now) {
				e.autoResolve(ctx, alert)
			}
		}
	}
}

// escalate advances an unhandled alert and re-notifies at high priority with
// the original priority attached as escalated_from.
func (e *Evaluator) escalate(ctx context.Context, alert *AlertInstance, rule *AlertRule) {
	now := e.now().UTC()
	from := alert.Priority

	alert.Status = StatusEscalated
	alert.EscalatedAt = &now
	if alert.Priority != PriorityCritical {
		alert.Priority = PriorityHigh
	}
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		log.Printf("[ERROR] Alert %s not escalated: %v", alert.ID, err)
		return
	}
	log.Printf("Alert %s escalated after %d min unacknowledged", alert.ID, *rule.EscalationMinutes)
	e.publish(ctx, "escalated", alert)
	e.broadcastLifecycle(alert, "alert_escalated", map[string]any{"escalated_from": string(from)})

	channels, err := e.channels.ChannelsByIDs(ctx, rule.NotificationChannelIDs)
	if err != nil || len(channels) == 0 {
		return
	}
	n := &delivery.Notification{
		AlertID:   alert.ID,
		Priority:  string(alert.Priority),
		Subject:   fmt.Sprintf("FaceGuard escalated alert: %s", alert.PersonID),
		Message:   fmt.Sprintf("ESCALATED: %s (unacknowledged)", alert.Message),
		PersonID:  alert.PersonID,
		CameraID:  alert.CameraID,
		Timestamp: now,
		Payload:   map[string]any{"escalated_from": string(from)},
	}
	sent := 0
	for _, rec := range e.dispatcher.Dispatch(ctx, channels, n) {
		if rec != nil && rec.Status == delivery.StatusSent {
			sent++
		}
	}
	alert.NotificationCount += sent
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		log.Printf("[WARN] Alert %s notification count not updated: %v", alert.ID, err)
	}
}

func (e *Evaluator) autoResolve(ctx context.Context, alert *AlertInstance) {
	now := e.now().UTC()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = "auto"
	if err := e.store.UpdateAlert(ctx, alert); err != nil {
		log.Printf("[ERROR] Alert %s not auto-resolved: %v", alert.ID, err)
		return
	}
	e.publish(ctx, "resolved", alert)
	e.broadcastLifecycle(alert, "alert_resolved", map[string]any{"resolved_by": "auto"})
}

func (e *Evaluator) broadcastLifecycle(alert *AlertInstance, msgType string, extra map[string]any) {
	if e.broadcast == nil {
		return
	}
	payload := map[string]any{
		"type":      msgType,
		"alert_id":  alert.ID.String(),
		"status":    string(alert.Status),
		"timestamp": e.now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.broadcast.Broadcast("alerts", msg)
}
