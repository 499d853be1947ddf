package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/domain/program"
	"github.com/ehr/careflow/internal/metadata"
	"github.com/ehr/careflow/internal/platform/metrics"
)

var ErrAlreadyRunning = errors.New("sweep already running", j.C("ERR_5d0b7e93c2a1f846"))

type ProgramWorkflowService interface {
	GetProgramByUUID(ctx context.Context, programUUID string) (*program.Program, error)
	GetPatientPrograms(ctx context.Context, f program.EnrollmentFilter) ([]*program.Enrollment, error)
	SavePatientProgram(ctx context.Context, e *program.Enrollment) error
}

type ConceptService interface {
	GetConceptByUUID(ctx context.Context, conceptUUID string) (*concept.Concept, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProgramReport holds the outcome of one program in a sweep.
type ProgramReport struct {
	Program   string    `json:"program"`
	Installed bool      `json:"installed"`
	Cutoff    time.Time `json:"cutoff"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

type Report struct {
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Programs  []ProgramReport `json:"programs"`
}

// Task completes enrollments that have outlived their program duration by
// moving them into the program's timed-out state.
type Task struct {
	catalog  *metadata.Catalog
	programs ProgramWorkflowService
	concepts ConceptService
	tx       Transactor
	clock    clock.Clock
	logger   zerolog.Logger

	running sync.Mutex
}

func NewTask(c *metadata.Catalog, programs ProgramWorkflowService, concepts ConceptService, tx Transactor, clk clock.Clock, logger zerolog.Logger) *Task {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Task{
		catalog:  c,
		programs: programs,
		concepts: concepts,
		tx:       tx,
		clock:    clk,
		logger:   logger.With().Str("component", "program-sweep").Logger(),
	}
}

// Run sweeps every catalog program once. It returns ErrAlreadyRunning when
// another run is in flight, and the context error with a partial report when
// ctx is cancelled between enrollments.
func (t *Task) Run(ctx context.Context) (*Report, error) {
	if !t.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer t.running.Unlock()

	start := t.clock.Now()
	report := &Report{StartedAt: start}
	defer func() {
		report.Duration = t.clock.Since(start)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
	}()

	for _, def := range t.catalog.Programs {
		pr, err := t.sweepProgram(ctx, def)
		report.Programs = append(report.Programs, pr)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (t *Task) sweepProgram(ctx context.Context, def metadata.ProgramDef) (ProgramReport, error) {
	now := t.clock.Now()
	pr := ProgramReport{
		Program: def.Key,
		Cutoff:  now.AddDate(0, 0, -7*def.CompleteAfter),
	}
	log := t.logger.With().Str("program", def.Key).Logger()

	p, err := t.programs.GetProgramByUUID(ctx, def.ProgramUUID)
	if errors.Is(err, program.ErrNotFound) {
		log.Debug().Msg("program not installed, skipping")
		return pr, nil
	} else if err != nil {
		return pr, errors.Wrap(err, "get program", j.KV("program", def.Key))
	}
	pr.Installed = true

	list, err := t.programs.GetPatientPrograms(ctx, program.EnrollmentFilter{ProgramID: p.ID})
	if err != nil {
		return pr, errors.Wrap(err, "list enrollments", j.KV("program", def.Key))
	}

	wf, target := t.timedOutState(ctx, p, def)

	for _, e := range list {
		if e.Voided || e.DateCompleted != nil || e.DateEnrolled == nil {
			continue
		}
		if !e.DateEnrolled.Before(pr.Cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Info().Int("completed", pr.Completed).Msg("sweep cancelled")
			return pr, err
		}
		if wf == nil || target == nil {
			pr.Skipped++
			continue
		}

		err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
			return t.complete(ctx, e, wf, target)
		})
		if err != nil {
			pr.Failed++
			metrics.SweepFailures.WithLabelValues(def.Key).Inc()
			log.Error().Err(err).Str("enrollment_id", e.ID.String()).Msg("auto-completion failed")
			continue
		}

		pr.Completed++
		metrics.SweepCompleted.WithLabelValues(def.Key).Inc()
		metrics.Transitions.WithLabelValues(def.Key, "true").Inc()
		log.Info().
			Str("enrollment_id", e.ID.String()).
			Str("patient_id", e.PatientID.String()).
			Time("date_enrolled", *e.DateEnrolled).
			Msg("enrollment auto-completed")
	}
	return pr, nil
}

// timedOutState resolves the workflow and the state an expired enrollment
// moves into. Either is nil when the host metadata is incomplete.
func (t *Task) timedOutState(ctx context.Context, p *program.Program, def metadata.ProgramDef) (*program.Workflow, *program.State) {
	log := t.logger.With().Str("program", def.Key).Logger()

	wf := p.WorkflowByUUID(def.WorkflowUUID)
	if wf == nil {
		log.Warn().Str("workflow", def.WorkflowUUID).Msg("workflow missing")
		return nil, nil
	}
	c, err := t.concepts.GetConceptByUUID(ctx, def.TimedOutState)
	if err != nil {
		log.Warn().Err(err).Str("concept", def.TimedOutState).Msg("timed-out concept missing")
		return wf, nil
	}
	s := wf.StateByConcept(c)
	if s == nil {
		log.Warn().Str("concept", def.TimedOutState).Msg("timed-out state missing")
	}
	return wf, s
}

func (t *Task) complete(ctx context.Context, e *program.Enrollment, wf *program.Workflow, target *program.State) error {
	now := t.clock.Now()
	cur := e.CurrentState(wf)
	if cur == nil || cur.State == nil || !cur.State.Concept.Equal(target.Concept) {
		e.TransitionToState(wf, target, now)
	}
	e.Complete(now)
	return errors.Wrap(t.programs.SavePatientProgram(ctx, e), "save enrollment", j.KV("enrollment_id", e.ID))
}
