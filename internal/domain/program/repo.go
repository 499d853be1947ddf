package program

import (
	"context"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var ErrNotFound = errors.New("program record not found", j.C("ERR_5d0f3b8e72a4c916"))

type ProgramRepository interface {
	// GetByUUID returns the program with its workflows and states.
	GetByUUID(ctx context.Context, programUUID string) (*Program, error)
	Create(ctx context.Context, p *Program) error
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	// States
	CreateState(ctx context.Context, s *State) error
	UpdateState(ctx context.Context, s *State) error
}

type EnrollmentRepository interface {
	Create(ctx context.Context, e *Enrollment) error
	Update(ctx context.Context, e *Enrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	Find(ctx context.Context, f EnrollmentFilter) ([]*Enrollment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Enrollment, int, error)
	// State history
	AddState(ctx context.Context, ps *PatientState) error
	UpdateState(ctx context.Context, ps *PatientState) error
}
