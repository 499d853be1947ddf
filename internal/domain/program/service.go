package program

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type Service struct {
	programs    ProgramRepository
	enrollments EnrollmentRepository
}

func NewService(p ProgramRepository, e EnrollmentRepository) *Service {
	return &Service{programs: p, enrollments: e}
}

// -- Program definitions --

// GetProgramByUUID returns the program with its workflows and states.
// Retired programs are reported as ErrNotFound.
func (s *Service) GetProgramByUUID(ctx context.Context, programUUID string) (*Program, error) {
	if strings.TrimSpace(programUUID) == "" {
		return nil, errors.Wrap(ErrNotFound, "empty program uuid")
	}
	p, err := s.programs.GetByUUID(ctx, programUUID)
	if err != nil {
		return nil, err
	}
	if p.Retired {
		return nil, errors.Wrap(ErrNotFound, "program retired", j.KV("uuid", programUUID))
	}
	return p, nil
}

// SaveProgram creates the program, workflows and states that have no ID yet
// and updates the flags of states that already exist.
func (s *Service) SaveProgram(ctx context.Context, p *Program) error {
	if p.ID == uuid.Nil {
		if p.Name == "" {
			return errors.New("program name is required")
		}
		if p.ConceptUUID == "" {
			return errors.New("program concept is required")
		}
		if err := s.programs.Create(ctx, p); err != nil {
			return err
		}
	}
	for _, wf := range p.Workflows {
		wf.ProgramID = p.ID
		if wf.ID == uuid.Nil {
			if wf.ConceptUUID == "" {
				return errors.New("workflow concept is required", j.KV("program", p.UUID))
			}
			if err := s.programs.CreateWorkflow(ctx, wf); err != nil {
				return err
			}
		}
		for _, st := range wf.States {
			st.WorkflowID = wf.ID
			if st.ID == uuid.Nil {
				if st.Concept == nil {
					return errors.New("state concept is required", j.KV("workflow", wf.UUID))
				}
				if err := s.programs.CreateState(ctx, st); err != nil {
					return err
				}
				continue
			}
			if err := s.programs.UpdateState(ctx, st); err != nil {
				return err
			}
		}
	}
	return nil
}

// -- Enrollments --

func (s *Service) GetPatientPrograms(ctx context.Context, f EnrollmentFilter) ([]*Enrollment, error) {
	return s.enrollments.Find(ctx, f)
}

func (s *Service) GetEnrollment(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	return s.enrollments.GetByID(ctx, id)
}

func (s *Service) ListEnrollmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Enrollment, int, error) {
	return s.enrollments.ListByPatient(ctx, patientID, limit, offset)
}

// SavePatientProgram persists the enrollment together with any state
// records added or ended since it was loaded.
func (s *Service) SavePatientProgram(ctx context.Context, e *Enrollment) error {
	if e.PatientID == uuid.Nil {
		return errors.New("patient_id is required")
	}
	if e.ProgramID == uuid.Nil {
		return errors.New("program_id is required")
	}
	if e.ID == uuid.Nil {
		if err := s.enrollments.Create(ctx, e); err != nil {
			return err
		}
	} else if err := s.enrollments.Update(ctx, e); err != nil {
		return err
	}

	for _, ps := range e.States {
		ps.EnrollmentID = e.ID
		switch {
		case ps.ID == uuid.Nil:
			if ps.State == nil || ps.State.ID == uuid.Nil {
				return errors.New("patient state has no persisted workflow state", j.KV("enrollment_id", e.ID))
			}
			if err := s.enrollments.AddState(ctx, ps); err != nil {
				return err
			}
		case ps.dirty:
			if err := s.enrollments.UpdateState(ctx, ps); err != nil {
				return err
			}
		}
		ps.dirty = false
	}
	return nil
}
