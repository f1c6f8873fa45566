package checks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hostscan/internal/query"
	"github.com/psantana5/hostscan/pkg/models"
)

type fakeEvents struct {
	results map[string]models.QueryResult
	filters map[string]query.Filter
}

func (f *fakeEvents) Query(_ context.Context, source string, filter query.Filter, _ time.Duration) models.QueryResult {
	if f.filters == nil {
		f.filters = make(map[string]query.Filter)
	}
	f.filters[source] = filter
	return f.results[source]
}

func events(ids ...int) []query.Event {
	out := make([]query.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, query.Event{ID: id, Provider: "Application Error", Level: query.LevelError})
	}
	return out
}

func TestSystemErrorsCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fe := &fakeEvents{results: map[string]models.QueryResult{
		"System": models.QueryOK(events(7031), 60, ""),
	}}
	ec := &eventChecks{events: fe, timeout: time.Second, now: func() time.Time { return now }}

	f, err := ec.systemErrors(context.Background(), models.TierStandard)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 7, f.Impact)

	filter := fe.filters["System"]
	require.NotNil(t, filter.Start)
	assert.Equal(t, now.Add(-24*time.Hour), *filter.Start)
	assert.Equal(t, []int{query.LevelCritical, query.LevelError}, filter.Level)
}

func TestDegradedResults(t *testing.T) {
	t.Run("access denied summary is a low confidence finding", func(t *testing.T) {
		res := models.QueryFailed(models.ReasonAccessDenied, 4200, "summary only")
		f, err := evalSecurityAudit(models.TierDeep, res)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, degradedConfidence, f.Confidence)
		assert.Equal(t, "eventlog.security_audit", f.ID)
		assert.Contains(t, f.Evidence, "summary only")
	})

	t.Run("other degradations are skipped", func(t *testing.T) {
		for _, res := range []models.QueryResult{
			models.QueryFailed(models.ReasonTimeout, 0, ""),
			models.QueryFailed(models.ReasonNotFound, 0, ""),
			models.QueryFailed(models.ReasonAccessDenied, 0, "access denied; summary fallback failed: x"),
		} {
			f, err := evalSystemErrors(models.TierStandard, res)
			require.NoError(t, err)
			assert.Nil(t, f, res.Reason)
		}
	})
}

func TestEvalAppCrashes(t *testing.T) {
	f, err := evalAppCrashes(models.TierDeep, models.QueryOK(events(1000, 1000, 1002, 1001, 7000), 5, ""))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "3 application crash or hang events", f.Message)
	assert.Equal(t, "Application Error x3", f.Evidence)

	f, err = evalAppCrashes(models.TierDeep, models.QueryOK(events(7000), 1, ""))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestEvalSecurityAudit(t *testing.T) {
	ids := make([]int, 25)
	for i := range ids {
		ids[i] = eventIDFailedLogon
	}
	f, err := evalSecurityAudit(models.TierDeep, models.QueryOK(events(ids...), len(ids), ""))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 7, f.Impact)
	assert.Equal(t, "Security", f.Category)

	f, err = evalSecurityAudit(models.TierDeep, models.QueryOK(events(4624), 1, ""))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestEventChecksFilterByEventID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := make([]int, 25)
	for i := range failed {
		failed[i] = 4625
	}
	fe := &fakeEvents{results: map[string]models.QueryResult{
		"Security":    models.QueryOK(events(failed...), len(failed), ""),
		"Application": models.QueryOK(events(1000), 1, ""),
	}}
	ec := &eventChecks{events: fe, timeout: time.Second, now: func() time.Time { return now }}

	f, err := ec.securityAudit(context.Background(), models.TierDeep)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "failed_logons=25", f.Evidence)
	assert.Equal(t, []int{4625}, fe.filters["Security"].EventIDs)

	_, err = ec.applicationCrashes(context.Background(), models.TierDeep)
	require.NoError(t, err)
	crashFilter := fe.filters["Application"]
	assert.Equal(t, []int{1000, 1002}, crashFilter.EventIDs)
	require.NotNil(t, crashFilter.Start)
	assert.Equal(t, now.Add(-7*24*time.Hour), *crashFilter.Start)
}
