package alerts

import (
	"time"

	"github.com/technosupport/faceguard/internal/sighting"
)

// PersonAttributes are directory facts about a recognized person, used by
// rules conditioned on department or access level. They come from the data
// service and may be absent.
type PersonAttributes struct {
	Department  string `json:"department,omitempty"`
	AccessLevel int    `json:"access_level"`
	LocationID  string `json:"location_id,omitempty"`
}

// Matches reports whether the rule's configured conditions all hold for the
// sighting. Unset conditions always hold; any_person is checked last so an
// explicit exclusion still wins.
func (r *AlertRule) Matches(s *sighting.Sighting, attrs *PersonAttributes, now time.Time) bool {
	c := r.TriggerConditions

	if contains(c.ExcludedPersons, s.PersonID) {
		return false
	}
	if len(c.PersonIDs) > 0 && !contains(c.PersonIDs, s.PersonID) && !c.AnyPerson {
		return false
	}
	if len(c.CameraIDs) > 0 && !contains(c.CameraIDs, s.CameraID) {
		return false
	}
	if c.ConfidenceMin != nil && s.Confidence < *c.ConfidenceMin {
		return false
	}
	if c.ConfidenceMax != nil && s.Confidence > *c.ConfidenceMax {
		return false
	}
	if len(c.TimeRanges) > 0 {
		hour := now.Hour()
		ok := false
		for _, tr := range c.TimeRanges {
			if tr.contains(hour) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(c.LocationIDs) > 0 {
		if attrs == nil || !contains(c.LocationIDs, attrs.LocationID) {
			return false
		}
	}
	if len(c.Departments) > 0 {
		if attrs == nil || !contains(c.Departments, attrs.Department) {
			return false
		}
	}
	if c.MinAccessLevel != nil {
		if attrs == nil || attrs.AccessLevel < *c.MinAccessLevel {
			return false
		}
	}
	if len(c.PersonIDs) == 0 && !c.AnyPerson {
		// A rule with neither a person list nor any_person matches nobody;
		// it is considered misconfigured rather than a match-all.
		return false
	}
	return true
}

// needsAttributes reports whether any condition requires a directory lookup.
func (r *AlertRule) needsAttributes() bool {
	c := r.TriggerConditions
	return len(c.LocationIDs) > 0 || len(c.Departments) > 0 || c.MinAccessLevel != nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
