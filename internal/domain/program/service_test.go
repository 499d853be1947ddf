package program

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"

	"github.com/ehr/careflow/internal/domain/concept"
)

// -- Mock Program Repository --

type mockProgramRepo struct {
	programs      map[string]*Program
	createdStates int
	updatedStates int
	createdFlows  int
}

func newMockProgramRepo() *mockProgramRepo {
	return &mockProgramRepo{programs: make(map[string]*Program)}
}

func (m *mockProgramRepo) GetByUUID(_ context.Context, programUUID string) (*Program, error) {
	p, ok := m.programs[strings.ToLower(programUUID)]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockProgramRepo) Create(_ context.Context, p *Program) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.programs[strings.ToLower(p.UUID)] = p
	return nil
}

func (m *mockProgramRepo) CreateWorkflow(_ context.Context, wf *Workflow) error {
	wf.ID = uuid.New()
	m.createdFlows++
	return nil
}

func (m *mockProgramRepo) CreateState(_ context.Context, s *State) error {
	s.ID = uuid.New()
	m.createdStates++
	return nil
}

func (m *mockProgramRepo) UpdateState(_ context.Context, s *State) error {
	m.updatedStates++
	return nil
}

// -- Mock Enrollment Repository --

type mockEnrollmentRepo struct {
	enrollments  map[uuid.UUID]*Enrollment
	addedStates  []*PatientState
	updatedState []*PatientState
	updates      int
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{enrollments: make(map[uuid.UUID]*Enrollment)}
}

func (m *mockEnrollmentRepo) Create(_ context.Context, e *Enrollment) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.enrollments[e.ID] = e
	return nil
}

func (m *mockEnrollmentRepo) Update(_ context.Context, e *Enrollment) error {
	if _, ok := m.enrollments[e.ID]; !ok {
		return ErrNotFound
	}
	m.updates++
	m.enrollments[e.ID] = e
	return nil
}

func (m *mockEnrollmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *mockEnrollmentRepo) Find(_ context.Context, f EnrollmentFilter) ([]*Enrollment, error) {
	var out []*Enrollment
	for _, e := range m.enrollments {
		if f.PatientID != uuid.Nil && e.PatientID != f.PatientID {
			continue
		}
		if f.ProgramID != uuid.Nil && e.ProgramID != f.ProgramID {
			continue
		}
		if e.Voided && !f.IncludeVoided {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockEnrollmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Enrollment, int, error) {
	var out []*Enrollment
	for _, e := range m.enrollments {
		if e.PatientID == patientID && !e.Voided {
			out = append(out, e)
		}
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockEnrollmentRepo) AddState(_ context.Context, ps *PatientState) error {
	ps.ID = uuid.New()
	m.addedStates = append(m.addedStates, ps)
	return nil
}

func (m *mockEnrollmentRepo) UpdateState(_ context.Context, ps *PatientState) error {
	m.updatedState = append(m.updatedState, ps)
	return nil
}

func newTestService() *Service {
	return NewService(newMockProgramRepo(), newMockEnrollmentRepo())
}

// -- Program tests --

func TestGetProgramByUUID(t *testing.T) {
	repo := newMockProgramRepo()
	svc := NewService(repo, newMockEnrollmentRepo())
	p := &Program{UUID: "828ce80d-1de0-4798-a9a9-0e89f37d0aaa", Name: "Child nutrition", ConceptUUID: "c"}
	if err := svc.SaveProgram(context.Background(), p); err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}

	got, err := svc.GetProgramByUUID(context.Background(), "828CE80D-1DE0-4798-A9A9-0E89F37D0AAA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("expected program %s, got %s", p.ID, got.ID)
	}
}

func TestGetProgramByUUID_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetProgramByUUID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetProgramByUUID(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty uuid, got %v", err)
	}
}

func TestGetProgramByUUID_Retired(t *testing.T) {
	repo := newMockProgramRepo()
	repo.programs["old"] = &Program{ID: uuid.New(), UUID: "old", Retired: true}
	svc := NewService(repo, newMockEnrollmentRepo())

	if _, err := svc.GetProgramByUUID(context.Background(), "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for retired program, got %v", err)
	}
}

func TestSaveProgram_CreatesTree(t *testing.T) {
	repo := newMockProgramRepo()
	svc := NewService(repo, newMockEnrollmentRepo())

	p := &Program{
		UUID: "p", Name: "Prenatal", ConceptUUID: "pc",
		Workflows: []*Workflow{{
			UUID: "wf", ConceptUUID: "wc",
			States: []*State{
				{Concept: &concept.Concept{UUID: "a"}, Initial: true},
				{Concept: &concept.Concept{UUID: "b"}, Terminal: true},
			},
		}},
	}
	if err := svc.SaveProgram(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.createdFlows != 1 || repo.createdStates != 2 {
		t.Errorf("expected 1 workflow and 2 states, got %d and %d", repo.createdFlows, repo.createdStates)
	}
	wf := p.Workflows[0]
	if wf.ProgramID != p.ID {
		t.Error("expected workflow to reference program")
	}
	for _, s := range wf.States {
		if s.WorkflowID != wf.ID {
			t.Error("expected state to reference workflow")
		}
	}

	// Saving again only updates the existing states.
	if err := svc.SaveProgram(context.Background(), p); err != nil {
		t.Fatalf("unexpected error on resave: %v", err)
	}
	if repo.createdStates != 2 || repo.updatedStates != 2 {
		t.Errorf("expected 2 created and 2 updated states, got %d and %d", repo.createdStates, repo.updatedStates)
	}
}

func TestSaveProgram_Validation(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name string
		p    *Program
	}{
		{"missing name", &Program{ConceptUUID: "c"}},
		{"missing concept", &Program{Name: "n"}},
		{"workflow without concept", &Program{Name: "n", ConceptUUID: "c", Workflows: []*Workflow{{}}}},
		{"state without concept", &Program{Name: "n", ConceptUUID: "c", Workflows: []*Workflow{{ConceptUUID: "w", States: []*State{{}}}}}},
	}
	for _, tt := range tests {
		if err := svc.SaveProgram(context.Background(), tt.p); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

// -- Enrollment tests --

func TestSavePatientProgram_CreateAndTransition(t *testing.T) {
	enrollments := newMockEnrollmentRepo()
	svc := NewService(newMockProgramRepo(), enrollments)
	wf := testWorkflow()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := &Enrollment{PatientID: uuid.New(), ProgramID: uuid.New(), DateEnrolled: &t0}
	if err := svc.SavePatientProgram(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Fatal("expected enrollment ID to be assigned")
	}

	e.TransitionToState(wf, wf.States[0], t0)
	if err := svc.SavePatientProgram(context.Background(), e); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	e.TransitionToState(wf, wf.States[1], t0.AddDate(0, 0, 10))
	if err := svc.SavePatientProgram(context.Background(), e); err != nil {
		t.Fatalf("second transition: %v", err)
	}

	if len(enrollments.addedStates) != 2 {
		t.Errorf("expected 2 added states, got %d", len(enrollments.addedStates))
	}
	if len(enrollments.updatedState) != 1 {
		t.Errorf("expected 1 ended state update, got %d", len(enrollments.updatedState))
	}
	if enrollments.updates != 2 {
		t.Errorf("expected 2 enrollment updates, got %d", enrollments.updates)
	}
	for _, ps := range e.States {
		if ps.EnrollmentID != e.ID {
			t.Error("expected state records to reference the enrollment")
		}
	}

	// A save without changes touches no state records.
	if err := svc.SavePatientProgram(context.Background(), e); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if len(enrollments.addedStates) != 2 || len(enrollments.updatedState) != 1 {
		t.Error("expected no state writes on unchanged save")
	}
}

func TestSavePatientProgram_Validation(t *testing.T) {
	svc := newTestService()
	if err := svc.SavePatientProgram(context.Background(), &Enrollment{ProgramID: uuid.New()}); err == nil {
		t.Error("expected error for missing patient")
	}
	if err := svc.SavePatientProgram(context.Background(), &Enrollment{PatientID: uuid.New()}); err == nil {
		t.Error("expected error for missing program")
	}
	e := &Enrollment{PatientID: uuid.New(), ProgramID: uuid.New(),
		States: []*PatientState{{State: &State{}}}}
	if err := svc.SavePatientProgram(context.Background(), e); err == nil {
		t.Error("expected error for unsaved workflow state")
	}
}

func TestGetPatientPrograms_Filter(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	patient := uuid.New()
	prog := uuid.New()

	for _, e := range []*Enrollment{
		{PatientID: patient, ProgramID: prog},
		{PatientID: patient, ProgramID: prog, Voided: true},
		{PatientID: patient, ProgramID: uuid.New()},
		{PatientID: uuid.New(), ProgramID: prog},
	} {
		if err := svc.SavePatientProgram(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := svc.GetPatientPrograms(ctx, EnrollmentFilter{PatientID: patient, ProgramID: prog})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 enrollment, got %d", len(got))
	}

	got, _ = svc.GetPatientPrograms(ctx, EnrollmentFilter{PatientID: patient, ProgramID: prog, IncludeVoided: true})
	if len(got) != 2 {
		t.Errorf("expected 2 enrollments including voided, got %d", len(got))
	}
}
