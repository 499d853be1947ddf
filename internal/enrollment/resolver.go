package enrollment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/ehr/careflow/internal/domain/program"
	"github.com/ehr/careflow/internal/platform/metrics"
)

// Resolver finds or opens the single active enrollment of a patient in a
// program.
type Resolver struct {
	programs ProgramWorkflowService
	clock    clock.Clock
	logger   zerolog.Logger
}

func NewResolver(programs ProgramWorkflowService, c clock.Clock, logger zerolog.Logger) *Resolver {
	return &Resolver{programs: programs, clock: c, logger: logger}
}

// ActiveEnrollment returns the first enrollment that is neither voided nor
// completed, or ErrNoActiveRecord.
func (r *Resolver) ActiveEnrollment(ctx context.Context, patientID uuid.UUID, p *program.Program) (*program.Enrollment, error) {
	list, err := r.programs.GetPatientPrograms(ctx, program.EnrollmentFilter{
		PatientID: patientID,
		ProgramID: p.ID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get patient programs", j.KV("patient_id", patientID))
	}
	for _, e := range list {
		if e.Active() {
			return e, nil
		}
	}
	return nil, ErrNoActiveRecord
}

// GetOrCreateActive returns the active enrollment, creating and saving one
// dated enrolledOn (or now) when there is none.
func (r *Resolver) GetOrCreateActive(ctx context.Context, patientID uuid.UUID, p *program.Program, enrolledOn *time.Time) (*program.Enrollment, error) {
	e, err := r.ActiveEnrollment(ctx, patientID, p)
	if err == nil {
		return e, nil
	} else if !errors.Is(err, ErrNoActiveRecord) {
		return nil, err
	}

	dated := r.clock.Now()
	if enrolledOn != nil {
		dated = *enrolledOn
	}
	e = &program.Enrollment{
		PatientID:    patientID,
		ProgramID:    p.ID,
		DateEnrolled: &dated,
	}
	if err := r.programs.SavePatientProgram(ctx, e); err != nil {
		return nil, errors.Wrap(err, "create enrollment", j.KV("patient_id", patientID))
	}

	metrics.EnrollmentsCreated.WithLabelValues(p.Name).Inc()
	r.logger.Info().
		Str("patient_id", patientID.String()).
		Str("program", p.UUID).
		Time("date_enrolled", dated).
		Msg("enrollment created")
	return e, nil
}
