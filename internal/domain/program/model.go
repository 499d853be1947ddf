package program

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/concept"
)

// Program maps to the program table.
type Program struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	UUID        string      `db:"uuid" json:"uuid"`
	ConceptUUID string      `db:"concept_uuid" json:"concept_uuid"`
	Name        string      `db:"name" json:"name"`
	Description *string     `db:"description" json:"description,omitempty"`
	Retired     bool        `db:"retired" json:"retired"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	Workflows   []*Workflow `db:"-" json:"workflows,omitempty"`
}

// Workflow maps to the program_workflow table.
type Workflow struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UUID        string    `db:"uuid" json:"uuid"`
	ProgramID   uuid.UUID `db:"program_id" json:"program_id"`
	ConceptUUID string    `db:"concept_uuid" json:"concept_uuid"`
	Retired     bool      `db:"retired" json:"retired"`
	States      []*State  `db:"-" json:"states,omitempty"`
}

// State maps to the program_workflow_state table.
type State struct {
	ID         uuid.UUID        `db:"id" json:"id"`
	UUID       string           `db:"uuid" json:"uuid"`
	WorkflowID uuid.UUID        `db:"workflow_id" json:"workflow_id"`
	Concept    *concept.Concept `db:"-" json:"concept"`
	Initial    bool             `db:"initial" json:"initial"`
	Terminal   bool             `db:"terminal" json:"terminal"`
	Retired    bool             `db:"retired" json:"retired"`
}

// Enrollment maps to the patient_program table.
type Enrollment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patient_id"`
	ProgramID     uuid.UUID       `db:"program_id" json:"program_id"`
	LocationID    *uuid.UUID      `db:"location_id" json:"location_id,omitempty"`
	DateEnrolled  *time.Time      `db:"date_enrolled" json:"date_enrolled,omitempty"`
	DateCompleted *time.Time      `db:"date_completed" json:"date_completed,omitempty"`
	Voided        bool            `db:"voided" json:"voided"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	States        []*PatientState `db:"-" json:"states,omitempty"`
}

// PatientState maps to the patient_state table.
type PatientState struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EnrollmentID uuid.UUID  `db:"patient_program_id" json:"patient_program_id"`
	State        *State     `db:"-" json:"state"`
	StartDate    time.Time  `db:"start_date" json:"start_date"`
	EndDate      *time.Time `db:"end_date" json:"end_date,omitempty"`
	Voided       bool       `db:"voided" json:"voided"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`

	dirty bool
}

// WorkflowByUUID returns the program's workflow with the given identifier,
// or nil.
func (p *Program) WorkflowByUUID(workflowUUID string) *Workflow {
	if p == nil {
		return nil
	}
	for _, wf := range p.Workflows {
		if strings.EqualFold(wf.UUID, workflowUUID) {
			return wf
		}
	}
	return nil
}

// StateByConcept returns the non-retired state backed by the concept, or nil.
func (w *Workflow) StateByConcept(c *concept.Concept) *State {
	if w == nil || c == nil {
		return nil
	}
	for _, s := range w.States {
		if !s.Retired && s.Concept.Equal(c) {
			return s
		}
	}
	return nil
}

// StateByConceptUUID is StateByConcept for a bare identifier.
func (w *Workflow) StateByConceptUUID(conceptUUID string) *State {
	return w.StateByConcept(&concept.Concept{UUID: conceptUUID})
}

func (w *Workflow) hasState(s *State) bool {
	if w == nil || s == nil {
		return false
	}
	for _, own := range w.States {
		if own == s || (own.ID != uuid.Nil && own.ID == s.ID) ||
			(own.UUID != "" && strings.EqualFold(own.UUID, s.UUID)) {
			return true
		}
	}
	return s.WorkflowID != uuid.Nil && s.WorkflowID == w.ID
}

// Active reports whether the enrollment is neither voided nor completed.
func (e *Enrollment) Active() bool {
	return e != nil && !e.Voided && e.DateCompleted == nil
}

// CurrentState returns the latest started, unended, non-voided state record
// belonging to the workflow, or nil.
func (e *Enrollment) CurrentState(w *Workflow) *PatientState {
	var current *PatientState
	for _, ps := range e.States {
		if ps.Voided || ps.EndDate != nil || !w.hasState(ps.State) {
			continue
		}
		if current == nil || ps.StartDate.After(current.StartDate) {
			current = ps
		}
	}
	return current
}

// TransitionToState ends the current state of the target state's workflow
// and appends a new record starting at onDate. Completion of the enrollment
// is left to the caller.
func (e *Enrollment) TransitionToState(w *Workflow, target *State, onDate time.Time) *PatientState {
	if cur := e.CurrentState(w); cur != nil {
		end := onDate
		cur.EndDate = &end
		cur.dirty = true
	}
	ps := &PatientState{
		EnrollmentID: e.ID,
		State:        target,
		StartDate:    onDate,
	}
	e.States = append(e.States, ps)
	return ps
}

// Complete stamps the completion date unless one is already set.
func (e *Enrollment) Complete(at time.Time) bool {
	if e.DateCompleted != nil {
		return false
	}
	done := at
	e.DateCompleted = &done
	return true
}

// SortStates orders the state history by start date, oldest first.
func (e *Enrollment) SortStates() {
	sort.SliceStable(e.States, func(i, j int) bool {
		return e.States[i].StartDate.Before(e.States[j].StartDate)
	})
}

// EnrollmentFilter narrows GetPatientPrograms. Zero values match everything.
type EnrollmentFilter struct {
	PatientID     uuid.UUID
	ProgramID     uuid.UUID
	IncludeVoided bool
}
