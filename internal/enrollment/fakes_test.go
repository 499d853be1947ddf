package enrollment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/program"
	"github.com/ehr/careflow/internal/metadata"
)

type fakePrograms struct {
	programs    map[string]*program.Program
	enrollments []*program.Enrollment

	programLookups   int
	enrollmentFinds  int
	saves            int
	saveErr          error
	persistedRecords int
}

func newFakePrograms(ps ...*program.Program) *fakePrograms {
	f := &fakePrograms{programs: make(map[string]*program.Program)}
	for _, p := range ps {
		f.programs[strings.ToLower(p.UUID)] = p
	}
	return f
}

func (f *fakePrograms) GetProgramByUUID(_ context.Context, programUUID string) (*program.Program, error) {
	f.programLookups++
	p, ok := f.programs[strings.ToLower(programUUID)]
	if !ok {
		return nil, program.ErrNotFound
	}
	return p, nil
}

func (f *fakePrograms) GetPatientPrograms(_ context.Context, flt program.EnrollmentFilter) ([]*program.Enrollment, error) {
	f.enrollmentFinds++
	var out []*program.Enrollment
	for _, e := range f.enrollments {
		if e.PatientID != flt.PatientID || e.ProgramID != flt.ProgramID {
			continue
		}
		if e.Voided && !flt.IncludeVoided {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakePrograms) SavePatientProgram(_ context.Context, e *program.Enrollment) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
		f.enrollments = append(f.enrollments, e)
	}
	for _, ps := range e.States {
		if ps.ID == uuid.Nil {
			ps.ID = uuid.New()
			ps.EnrollmentID = e.ID
			f.persistedRecords++
		}
	}
	return nil
}

func (f *fakePrograms) forPatient(patientID uuid.UUID) []*program.Enrollment {
	var out []*program.Enrollment
	for _, e := range f.enrollments {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out
}

type fakeConcepts map[string]*concept.Concept

func (f fakeConcepts) GetConceptByUUID(_ context.Context, conceptUUID string) (*concept.Concept, error) {
	c, ok := f[strings.ToLower(conceptUUID)]
	if !ok {
		return nil, concept.ErrNotFound
	}
	return c, nil
}

func conceptsFor(uuids ...string) fakeConcepts {
	f := make(fakeConcepts)
	for _, u := range uuids {
		if u == "" {
			continue
		}
		f[strings.ToLower(u)] = &concept.Concept{ID: uuid.New(), UUID: u}
	}
	return f
}

type countingTx struct{ calls int }

func (c *countingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func catalogDef(t *testing.T, key string) metadata.ProgramDef {
	t.Helper()
	c, err := metadata.Default()
	require.NoError(t, err)
	def, ok := c.Program(key)
	require.True(t, ok)
	return def
}

// installedProgram builds the program tree the installer would have saved.
func installedProgram(def metadata.ProgramDef) *program.Program {
	p := &program.Program{ID: uuid.New(), UUID: def.ProgramUUID, Name: def.Key, ConceptUUID: def.ProgramConcept}
	wf := &program.Workflow{ID: uuid.New(), UUID: def.WorkflowUUID, ProgramID: p.ID, ConceptUUID: def.WorkflowConcept}
	for _, sd := range def.States {
		wf.States = append(wf.States, &program.State{
			ID:         uuid.New(),
			UUID:       uuid.NewString(),
			WorkflowID: wf.ID,
			Concept:    &concept.Concept{UUID: sd.Concept},
			Initial:    sd.Initial,
			Terminal:   sd.Terminal,
		})
	}
	p.Workflows = []*program.Workflow{wf}
	return p
}

func questionConcepts(def metadata.ProgramDef) fakeConcepts {
	return conceptsFor(def.Questions.Status, def.Questions.DischargeReason)
}

var (
	epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sam             = "e0c08730-6b7f-4c8d-9e44-37b64727d5bc"
	mam             = "21e12fb9-3c3f-49a2-a222-132e35392e4e"
	reachedTarget   = "0a947c3b-ac0a-42af-9299-674620dc7a6d"
	pregnant        = "97174b07-8ec5-453b-b6ad-09ada32c1eb1"
	delivered       = "70b070ae-2c08-4ae1-9551-971a31e41640"
	unknownAnswer   = "5b1c9a3e-0000-4000-8000-000000000000"
	strategyNowTime = epoch.Add(72 * time.Hour)
)

func newDeps(programs *fakePrograms, concepts fakeConcepts) (Deps, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(strategyNowTime)
	return Deps{
		Programs: programs,
		Concepts: concepts,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, clk
}

func ptrTime(t time.Time) *time.Time { return &t }

func codedObs(question, answer string, at time.Time) *encounter.Obs {
	return &encounter.Obs{
		Concept:     &concept.Concept{UUID: question},
		ValueCoded:  &concept.Concept{UUID: answer},
		ObsDatetime: ptrTime(at),
	}
}

func newEncounter(typeUUID string, patientID uuid.UUID, at *time.Time, obs ...*encounter.Obs) *encounter.Encounter {
	return &encounter.Encounter{
		ID:                uuid.New(),
		PatientID:         patientID,
		TypeUUID:          typeUUID,
		EncounterDatetime: at,
		Obs:               obs,
	}
}

func event(enc *encounter.Encounter) SaveEvent {
	return SaveEvent{Encounter: enc, ActingUser: "nurse-1", Reason: "encounter saved"}
}
