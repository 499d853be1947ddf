package enrollment

import (
	"context"

	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/metadata"
)

// ChildNutrition follows malnutrition status answers and discharges.
//
// A reason for discharge wins over the malnutrition status recorded in the
// same encounter. Reaching the target weight state through the status
// question is a plain status update; reaching any terminal state through a
// discharge completes the enrollment.
type ChildNutrition struct {
	base
}

func NewChildNutrition(def metadata.ProgramDef, d Deps) *ChildNutrition {
	return &ChildNutrition{base: newBase(metadata.ChildNutrition, def, d)}
}

func (s *ChildNutrition) Apply(ctx context.Context, ev SaveEvent) error {
	sc, err := s.begin(ctx, ev)
	if err != nil || sc == nil {
		return err
	}

	statusQ, err := s.question(ctx, s.def.Questions.Status)
	if err != nil {
		return err
	}
	dischargeQ, err := s.question(ctx, s.def.Questions.DischargeReason)
	if err != nil {
		return err
	}
	if statusQ == nil || dischargeQ == nil {
		s.skip(sc.log, "question_concept_missing")
		return nil
	}

	wf := sc.program.WorkflowByUUID(s.def.WorkflowUUID)
	if wf == nil {
		s.skip(sc.log, "workflow_missing")
		return nil
	}

	status := encounter.LatestCodedValue(ev.Encounter, statusQ.UUID)
	reason := encounter.LatestCodedValue(ev.Encounter, dischargeQ.UUID)

	switch {
	case reason != nil:
		target := wf.StateByConcept(reason)
		if target == nil {
			s.skip(sc.log, "no_state_for_discharge_reason")
			return nil
		}
		return s.apply(ctx, sc, ev, wf, target, target.Terminal)

	case status != nil:
		target := wf.StateByConcept(status)
		if target == nil {
			s.skip(sc.log, "no_state_for_status")
			return nil
		}
		terminal := target.Terminal && !target.Concept.Is(s.def.TargetWeight)
		return s.apply(ctx, sc, ev, wf, target, terminal)

	default:
		s.skip(sc.log, "no_coded_answer")
		return nil
	}
}
