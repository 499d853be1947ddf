package enrollment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/program"
	"github.com/ehr/careflow/internal/metadata"
	"github.com/ehr/careflow/internal/platform/metrics"
)

// SaveEvent is delivered by the host every time an encounter is saved.
type SaveEvent struct {
	Encounter  *encounter.Encounter `json:"encounter"`
	ActingUser string               `json:"acting_user,omitempty"`
	Timestamp  *time.Time           `json:"timestamp,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

func (ev SaveEvent) Validate() error {
	if ev.Encounter == nil {
		return errors.Wrap(ErrInvalidEvent, "encounter is required")
	}
	if ev.Encounter.PatientID == uuid.Nil {
		return errors.Wrap(ErrInvalidEvent, "encounter patient_id is required")
	}
	return nil
}

// Strategy evaluates a saved encounter for a single care program.
// Implementations ignore encounters of other types and return nil when a
// prerequisite is missing.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, ev SaveEvent) error
}

type ProgramWorkflowService interface {
	GetProgramByUUID(ctx context.Context, programUUID string) (*program.Program, error)
	GetPatientPrograms(ctx context.Context, f program.EnrollmentFilter) ([]*program.Enrollment, error)
	SavePatientProgram(ctx context.Context, e *program.Enrollment) error
}

type ConceptService interface {
	GetConceptByUUID(ctx context.Context, conceptUUID string) (*concept.Concept, error)
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Programs ProgramWorkflowService
	Concepts ConceptService
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// base holds the steps both program variants run before reading answers.
type base struct {
	name     string
	def      metadata.ProgramDef
	programs ProgramWorkflowService
	concepts ConceptService
	resolver *Resolver
	clock    clock.Clock
	logger   zerolog.Logger
}

func newBase(name string, def metadata.ProgramDef, d Deps) base {
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	logger := d.Logger.With().Str("component", "strategy").Str("strategy", name).Logger()
	return base{
		name:     name,
		def:      def,
		programs: d.Programs,
		concepts: d.Concepts,
		resolver: NewResolver(d.Programs, d.Clock, logger),
		clock:    d.Clock,
		logger:   logger,
	}
}

func (b *base) Name() string { return b.name }

// scope is what a strategy has resolved once it is past the enrollment step.
type scope struct {
	program    *program.Program
	enrollment *program.Enrollment
	log        zerolog.Logger
}

// begin runs the encounter type filter, the program lookup and the
// enrollment resolution. A nil scope with a nil error means stop silently.
func (b *base) begin(ctx context.Context, ev SaveEvent) (*scope, error) {
	enc := ev.Encounter
	if !enc.IsType(b.def.EncounterType) {
		return nil, nil
	}
	log := b.logger.With().
		Str("patient_id", enc.PatientID.String()).
		Str("encounter_id", enc.ID.String()).
		Logger()

	p, err := b.programs.GetProgramByUUID(ctx, b.def.ProgramUUID)
	if errors.Is(err, program.ErrNotFound) {
		b.skip(log, "program_not_installed")
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "get program")
	}

	e, err := b.resolver.GetOrCreateActive(ctx, enc.PatientID, p, enc.EncounterDatetime)
	if err != nil {
		return nil, err
	}
	return &scope{program: p, enrollment: e, log: log}, nil
}

// question resolves a question concept, returning nil when it is unknown.
func (b *base) question(ctx context.Context, conceptUUID string) (*concept.Concept, error) {
	c, err := b.concepts.GetConceptByUUID(ctx, conceptUUID)
	if errors.Is(err, concept.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "get concept")
	}
	return c, nil
}

func (b *base) skip(log zerolog.Logger, reason string) {
	log.Debug().Str("reason", reason).Msg("encounter not applied")
	metrics.StrategySkips.WithLabelValues(b.name, reason).Inc()
}

// apply moves the enrollment to target and saves it. When target is already
// the current state only a pending terminal completion is written.
func (b *base) apply(ctx context.Context, s *scope, ev SaveEvent, wf *program.Workflow, target *program.State, terminal bool) error {
	e := s.enrollment
	now := b.clock.Now()
	onDate := effectiveDate(e, ev.Encounter, fallbackDate(ev, now))

	cur := e.CurrentState(wf)
	if cur != nil && cur.State != nil && cur.State.Concept.Equal(target.Concept) {
		if !terminal || e.DateCompleted != nil {
			b.skip(s.log, "already_in_state")
			return nil
		}
		e.Complete(now)
	} else {
		e.TransitionToState(wf, target, onDate)
		if terminal {
			e.Complete(now)
		}
	}
	if ev.Encounter.LocationID != nil {
		loc := *ev.Encounter.LocationID
		e.LocationID = &loc
	}

	if err := b.programs.SavePatientProgram(ctx, e); err != nil {
		return errors.Wrap(err, "save enrollment")
	}

	metrics.Transitions.WithLabelValues(b.def.Key, terminalLabel(terminal)).Inc()
	s.log.Info().
		Str("state", target.Concept.UUID).
		Bool("terminal", terminal).
		Time("effective", onDate).
		Str("acting_user", ev.ActingUser).
		Msg("enrollment state updated")
	return nil
}

// effectiveDate is the encounter time, or the fallback when the encounter
// has none, moved forward to the enrollment date when it predates it.
func effectiveDate(e *program.Enrollment, enc *encounter.Encounter, fallback time.Time) time.Time {
	at := fallback
	if enc != nil && enc.EncounterDatetime != nil {
		at = *enc.EncounterDatetime
	}
	if e.DateEnrolled != nil && at.Before(*e.DateEnrolled) {
		return *e.DateEnrolled
	}
	return at
}

func fallbackDate(ev SaveEvent, now time.Time) time.Time {
	if ev.Timestamp != nil {
		return *ev.Timestamp
	}
	return now
}

func terminalLabel(terminal bool) string {
	if terminal {
		return "true"
	}
	return "false"
}
