package encounter

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/concept"
)

// Encounter is the snapshot of a saved clinical encounter as delivered by the
// host. It is never persisted by this service.
type Encounter struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	TypeUUID          string     `json:"encounter_type"`
	LocationID        *uuid.UUID `json:"location_id,omitempty"`
	EncounterDatetime *time.Time `json:"encounter_datetime,omitempty"`
	Obs               []*Obs     `json:"obs,omitempty"`
}

// Obs is a single recorded observation. Grouped observations carry their
// children in GroupMembers.
type Obs struct {
	Concept      *concept.Concept `json:"concept"`
	ValueCoded   *concept.Concept `json:"value_coded,omitempty"`
	ObsDatetime  *time.Time       `json:"obs_datetime,omitempty"`
	Voided       bool             `json:"voided,omitempty"`
	GroupMembers []*Obs           `json:"group_members,omitempty"`
}

// IsType reports whether the encounter has the given encounter type.
func (e *Encounter) IsType(typeUUID string) bool {
	if e == nil || e.TypeUUID == "" {
		return false
	}
	return strings.EqualFold(e.TypeUUID, typeUUID)
}

// AllObs returns the non-voided observations of the encounter in document
// order, with group members following their parent. Members of a voided
// group are dropped together with it.
func (e *Encounter) AllObs() []*Obs {
	if e == nil {
		return nil
	}
	var out []*Obs
	var walk func(list []*Obs)
	walk = func(list []*Obs) {
		for _, o := range list {
			if o == nil || o.Voided {
				continue
			}
			out = append(out, o)
			walk(o.GroupMembers)
		}
	}
	walk(e.Obs)
	return out
}
