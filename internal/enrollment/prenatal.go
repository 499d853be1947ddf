package enrollment

import (
	"context"

	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/metadata"
)

// Prenatal follows the pregnancy status answer. Terminal states complete
// the enrollment.
type Prenatal struct {
	base
}

func NewPrenatal(def metadata.ProgramDef, d Deps) *Prenatal {
	return &Prenatal{base: newBase(metadata.Prenatal, def, d)}
}

func (s *Prenatal) Apply(ctx context.Context, ev SaveEvent) error {
	sc, err := s.begin(ctx, ev)
	if err != nil || sc == nil {
		return err
	}

	statusQ, err := s.question(ctx, s.def.Questions.Status)
	if err != nil {
		return err
	}
	if statusQ == nil {
		s.skip(sc.log, "question_concept_missing")
		return nil
	}

	wf := sc.program.WorkflowByUUID(s.def.WorkflowUUID)
	if wf == nil {
		s.skip(sc.log, "workflow_missing")
		return nil
	}

	value := encounter.LatestCodedValue(ev.Encounter, statusQ.UUID)
	if value == nil {
		s.skip(sc.log, "no_coded_answer")
		return nil
	}
	target := wf.StateByConcept(value)
	if target == nil {
		s.skip(sc.log, "no_state_for_status")
		return nil
	}
	return s.apply(ctx, sc, ev, wf, target, target.Terminal)
}
