package encounter

import "github.com/ehr/careflow/internal/domain/concept"

// LatestCodedValue returns the coded answer of the most recent non-voided
// observation for the question concept, or nil when there is none.
func LatestCodedValue(enc *Encounter, questionUUID string) *concept.Concept {
	if o := LatestCodedObs(enc, questionUUID); o != nil {
		return o.ValueCoded
	}
	return nil
}

// LatestCodedObs is LatestCodedValue returning the whole observation.
//
// Observations are compared by ObsDatetime only. An observation without a
// timestamp is taken only when nothing has been selected yet, and a later
// observation must be strictly after the selected one to replace it, so
// ties keep the first value seen.
func LatestCodedObs(enc *Encounter, questionUUID string) *Obs {
	var latest *Obs
	for _, o := range enc.AllObs() {
		if o.ValueCoded == nil || !o.Concept.Is(questionUUID) {
			continue
		}
		if latest == nil || newer(o, latest) {
			latest = o
		}
	}
	return latest
}

func newer(candidate, selected *Obs) bool {
	if candidate.ObsDatetime == nil {
		return false
	}
	if selected.ObsDatetime == nil {
		return true
	}
	return candidate.ObsDatetime.After(*selected.ObsDatetime)
}
