package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psantana5/hostscan/internal/query"
	"github.com/psantana5/hostscan/pkg/models"
)

// EventQuerier runs a protected event log query. *query.Wrapper implements it.
type EventQuerier interface {
	Query(ctx context.Context, source string, filter query.Filter, timeout time.Duration) models.QueryResult
}

const (
	systemErrorsWindow     = 24 * time.Hour
	systemErrorsCritical   = 50
	systemErrorsWarn       = 10
	crashWindow            = 7 * 24 * time.Hour
	crashCritical          = 5
	securityWindow         = 24 * time.Hour
	failedLogonCritical    = 20
	failedLogonWarn        = 5
	eventIDAppError        = 1000
	eventIDAppHang         = 1002
	eventIDFailedLogon     = 4625
	degradedConfidence     = 3
	eventLogMaxEvents      = 500
	securityAuditMaxEvents = 1000
)

type eventChecks struct {
	events  EventQuerier
	timeout time.Duration
	now     func() time.Time
}

func (e *eventChecks) since(window time.Duration) *time.Time {
	t := e.now().Add(-window)
	return &t
}

func (e *eventChecks) systemErrors(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	res := e.events.Query(ctx, "System", query.Filter{
		Start:     e.since(systemErrorsWindow),
		Level:     []int{query.LevelCritical, query.LevelError},
		MaxEvents: eventLogMaxEvents,
	}, e.timeout)
	return evalSystemErrors(tier, res)
}

func evalSystemErrors(tier models.Tier, res models.QueryResult) (*models.Finding, error) {
	if res.Degraded() {
		return degradedFinding(tier, "eventlog.system_errors", "System", res)
	}

	spec := models.FindingSpec{
		ID:       "eventlog.system_errors",
		Tier:     tier,
		Category: "EventLog",
		Effort:   3,
		FixID:    "eventlog.review_system",
		Evidence: evidence(res),
	}
	switch {
	case res.Count >= systemErrorsCritical:
		spec.Impact, spec.Confidence, spec.Priority = 7, 8, 1
	case res.Count >= systemErrorsWarn:
		spec.Impact, spec.Confidence, spec.Priority = 4, 7, 2
	default:
		return nil, nil
	}
	spec.Message = fmt.Sprintf("%d critical/error events in the System log", res.Count)
	return models.NewFinding(spec)
}

func (e *eventChecks) applicationCrashes(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	res := e.events.Query(ctx, "Application", query.Filter{
		Start:     e.since(crashWindow),
		EventIDs:  []int{eventIDAppError, eventIDAppHang},
		MaxEvents: eventLogMaxEvents,
	}, e.timeout)
	return evalAppCrashes(tier, res)
}

func evalAppCrashes(tier models.Tier, res models.QueryResult) (*models.Finding, error) {
	if res.Degraded() {
		return degradedFinding(tier, "eventlog.application_crashes", "Application", res)
	}

	crashes := filterEvents(res.Data, eventIDAppError, eventIDAppHang)
	if len(crashes) == 0 {
		return nil, nil
	}

	spec := models.FindingSpec{
		ID:       "eventlog.application_crashes",
		Tier:     tier,
		Category: "EventLog",
		Effort:   4,
		FixID:    "eventlog.review_crashes",
		Evidence: topProviders(crashes, 3),
		Message:  fmt.Sprintf("%d application crash or hang events", len(crashes)),
	}
	if len(crashes) >= crashCritical {
		spec.Impact, spec.Confidence, spec.Priority = 6, 8, 2
	} else {
		spec.Impact, spec.Confidence, spec.Priority = 3, 7, 3
	}
	return models.NewFinding(spec)
}

func (e *eventChecks) securityAudit(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	res := e.events.Query(ctx, "Security", query.Filter{
		Start:     e.since(securityWindow),
		EventIDs:  []int{eventIDFailedLogon},
		MaxEvents: securityAuditMaxEvents,
	}, e.timeout)
	return evalSecurityAudit(tier, res)
}

func evalSecurityAudit(tier models.Tier, res models.QueryResult) (*models.Finding, error) {
	if res.Degraded() {
		return degradedFinding(tier, "eventlog.security_audit", "Security", res)
	}

	failed := filterEvents(res.Data, eventIDFailedLogon)
	spec := models.FindingSpec{
		ID:       "eventlog.security_audit",
		Tier:     tier,
		Category: "Security",
		Effort:   3,
		FixID:    "security.review_logons",
		Evidence: fmt.Sprintf("failed_logons=%d", len(failed)),
	}
	switch {
	case len(failed) >= failedLogonCritical:
		spec.Impact, spec.Confidence, spec.Priority = 7, 7, 1
	case len(failed) >= failedLogonWarn:
		spec.Impact, spec.Confidence, spec.Priority = 4, 6, 2
	default:
		return nil, nil
	}
	spec.Message = fmt.Sprintf("%d failed logon attempts", len(failed))
	return models.NewFinding(spec)
}

// degradedFinding turns an access-denied summary into a low-confidence finding.
// Other degraded results carry no usable signal and produce nothing.
func degradedFinding(tier models.Tier, id, channel string, res models.QueryResult) (*models.Finding, error) {
	if res.Reason != models.ReasonAccessDenied || res.Count == 0 {
		return nil, nil
	}
	return models.NewFinding(models.FindingSpec{
		ID:         id,
		Tier:       tier,
		Category:   "EventLog",
		Impact:     2,
		Confidence: degradedConfidence,
		Effort:     2,
		Priority:   4,
		FixID:      "eventlog.run_elevated",
		Evidence:   fmt.Sprintf("records=%d (%s)", res.Count, res.Note),
		Message:    fmt.Sprintf("%s log could not be read without elevation; only its size is known", channel),
	})
}

func filterEvents(data interface{}, ids ...int) []query.Event {
	events, _ := data.([]query.Event)
	var out []query.Event
	for _, ev := range events {
		for _, id := range ids {
			if ev.ID == id {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func topProviders(events []query.Event, n int) string {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Provider]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s x%d", name, counts[name]))
	}
	return strings.Join(parts, "; ")
}

func evidence(res models.QueryResult) string {
	ev := fmt.Sprintf("events=%d", res.Count)
	if res.Note != "" {
		ev += " (" + res.Note + ")"
	}
	return ev
}
