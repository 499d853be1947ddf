package metadata

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/domain/program"
)

type ConceptService interface {
	GetConceptByUUID(ctx context.Context, conceptUUID string) (*concept.Concept, error)
}

type ProgramService interface {
	GetProgramByUUID(ctx context.Context, programUUID string) (*program.Program, error)
	SaveProgram(ctx context.Context, p *program.Program) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InstallReport lists catalog keys by outcome.
type InstallReport struct {
	Installed []string `json:"installed"`
	Skipped   []string `json:"skipped"`
}

// Installer keeps the catalog programs, workflows and states present in the
// host tables. It reuses existing concepts and never creates them.
type Installer struct {
	catalog  *Catalog
	concepts ConceptService
	programs ProgramService
	tx       Transactor
	logger   zerolog.Logger
}

func NewInstaller(c *Catalog, concepts ConceptService, programs ProgramService, tx Transactor, logger zerolog.Logger) *Installer {
	return &Installer{
		catalog:  c,
		concepts: concepts,
		programs: programs,
		tx:       tx,
		logger:   logger.With().Str("component", "metadata-installer").Logger(),
	}
}

// Install runs every catalog program in its own transaction. Programs whose
// backing concepts are absent are skipped.
func (in *Installer) Install(ctx context.Context) (*InstallReport, error) {
	report := &InstallReport{}
	for _, def := range in.catalog.Programs {
		var installed bool
		err := in.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			installed, err = in.installProgram(ctx, def)
			return err
		})
		if err != nil {
			return report, errors.Wrap(err, "install program "+def.Key)
		}
		if installed {
			report.Installed = append(report.Installed, def.Key)
		} else {
			report.Skipped = append(report.Skipped, def.Key)
		}
	}
	return report, nil
}

func (in *Installer) installProgram(ctx context.Context, def ProgramDef) (bool, error) {
	log := in.logger.With().Str("program", def.Key).Logger()

	programConcept, err := in.lookupConcept(ctx, def.ProgramConcept)
	if err != nil {
		return false, err
	}
	statusConcept, err := in.lookupConcept(ctx, def.WorkflowConcept)
	if err != nil {
		return false, err
	}
	if programConcept == nil || statusConcept == nil {
		log.Info().Msg("backing concepts missing, skipping program install")
		return false, nil
	}

	p, err := in.programs.GetProgramByUUID(ctx, def.ProgramUUID)
	if errors.Is(err, program.ErrNotFound) {
		p = &program.Program{
			UUID:        def.ProgramUUID,
			ConceptUUID: programConcept.UUID,
			Name:        programConcept.Name,
		}
		desc := programConcept.DescriptionOr(programConcept.Name)
		p.Description = &desc
		log.Info().Str("uuid", def.ProgramUUID).Msg("creating program")
	} else if err != nil {
		return false, err
	}

	wf := p.WorkflowByUUID(def.WorkflowUUID)
	if wf == nil {
		wf = &program.Workflow{UUID: def.WorkflowUUID, ConceptUUID: statusConcept.UUID}
		p.Workflows = append(p.Workflows, wf)
		log.Info().Str("uuid", def.WorkflowUUID).Msg("creating workflow")
	}

	for _, sd := range def.States {
		answer, err := in.lookupConcept(ctx, sd.Concept)
		if err != nil {
			return false, err
		}
		if answer == nil {
			log.Debug().Str("concept", sd.Concept).Msg("state concept missing, skipping state")
			continue
		}
		if existing := wf.StateByConcept(answer); existing != nil {
			existing.Terminal = sd.Terminal
			continue
		}
		wf.States = append(wf.States, &program.State{
			Concept:  answer,
			Initial:  sd.Initial,
			Terminal: sd.Terminal,
		})
	}

	if err := in.programs.SaveProgram(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// lookupConcept returns nil without error for unknown concepts.
func (in *Installer) lookupConcept(ctx context.Context, conceptUUID string) (*concept.Concept, error) {
	c, err := in.concepts.GetConceptByUUID(ctx, conceptUUID)
	if errors.Is(err, concept.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return c, nil
}
