package alerts

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/faceguard/internal/sighting"
)

func float64p(v float64) *float64 { return &v }
func intp(v int) *int             { return &v }

func testSighting() *sighting.Sighting {
	return &sighting.Sighting{
		ID:         uuid.New(),
		PersonID:   "person-1",
		CameraID:   "cam-lobby",
		Confidence: 0.85,
		Timestamp:  time.Now(),
	}
}

func TestMatchesPersonList(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{PersonIDs: []string{"person-1", "person-2"}}}
	now := time.Now()

	assert.True(t, r.Matches(testSighting(), nil, now))

	s := testSighting()
	s.PersonID = "person-9"
	assert.False(t, r.Matches(s, nil, now))
}

func TestMatchesExclusionBeatsAnyPerson(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{
		AnyPerson:       true,
		ExcludedPersons: []string{"person-1"},
	}}
	assert.False(t, r.Matches(testSighting(), nil, time.Now()))

	s := testSighting()
	s.PersonID = "person-2"
	assert.True(t, r.Matches(s, nil, time.Now()))
}

func TestMatchesConfidenceBounds(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{
		AnyPerson:     true,
		ConfidenceMin: float64p(0.8),
		ConfidenceMax: float64p(0.95),
	}}
	now := time.Now()

	assert.True(t, r.Matches(testSighting(), nil, now))

	low := testSighting()
	low.Confidence = 0.79
	assert.False(t, r.Matches(low, nil, now))

	high := testSighting()
	high.Confidence = 0.96
	assert.False(t, r.Matches(high, nil, now))
}

func TestMatchesCameraList(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{
		AnyPerson: true,
		CameraIDs: []string{"cam-dock"},
	}}
	assert.False(t, r.Matches(testSighting(), nil, time.Now()))

	s := testSighting()
	s.CameraID = "cam-dock"
	assert.True(t, r.Matches(s, nil, time.Now()))
}

func TestMatchesTimeRanges(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{
		AnyPerson:  true,
		TimeRanges: []TimeRange{{StartHour: 22, EndHour: 6}}, // overnight, wraps midnight
	}}

	at := func(hour int) time.Time {
		return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
	}
	assert.True(t, r.Matches(testSighting(), nil, at(23)))
	assert.True(t, r.Matches(testSighting(), nil, at(2)))
	assert.False(t, r.Matches(testSighting(), nil, at(12)))
	assert.False(t, r.Matches(testSighting(), nil, at(6)), "end hour is exclusive")
}

func TestMatchesDirectoryConditions(t *testing.T) {
	r := &AlertRule{TriggerConditions: TriggerConditions{
		AnyPerson:      true,
		Departments:    []string{"security"},
		MinAccessLevel: intp(3),
	}}
	now := time.Now()

	assert.False(t, r.Matches(testSighting(), nil, now), "unknown attributes cannot satisfy directory conditions")
	assert.False(t, r.Matches(testSighting(), &PersonAttributes{Department: "security", AccessLevel: 2}, now))
	assert.True(t, r.Matches(testSighting(), &PersonAttributes{Department: "security", AccessLevel: 3}, now))
}

func TestMatchesEmptyRuleMatchesNobody(t *testing.T) {
	r := &AlertRule{}
	assert.False(t, r.Matches(testSighting(), nil, time.Now()))
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityHigh, priorityFor("high"))
	assert.Equal(t, PriorityCritical, priorityFor("critical"))
	assert.Equal(t, PriorityCritical, priorityFor("wanted"))
	assert.Equal(t, PriorityMedium, priorityFor(""))
}
