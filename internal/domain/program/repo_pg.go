package program

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ehr/careflow/internal/domain/concept"
	"github.com/ehr/careflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Program Repository ===========

type programRepoPG struct{ pool *pgxpool.Pool }

func NewProgramRepoPG(pool *pgxpool.Pool) ProgramRepository {
	return &programRepoPG{pool: pool}
}

func (r *programRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conceptByUUID = `(SELECT id FROM concept WHERE lower(uuid) = lower($%d))`

func (r *programRepoPG) GetByUUID(ctx context.Context, programUUID string) (*Program, error) {
	var p Program
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.id, p.uuid, c.uuid, p.name, p.description, p.retired, p.created_at
		FROM program p JOIN concept c ON c.id = p.concept_id
		WHERE lower(p.uuid) = lower($1)`, programUUID).
		Scan(&p.ID, &p.UUID, &p.ConceptUUID, &p.Name, &p.Description, &p.Retired, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "program", j.KV("uuid", programUUID))
	} else if err != nil {
		return nil, errors.Wrap(err, "get program", j.KV("uuid", programUUID))
	}

	if err := r.loadWorkflows(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *programRepoPG) loadWorkflows(ctx context.Context, p *Program) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT w.id, w.uuid, w.program_id, c.uuid, w.retired
		FROM program_workflow w JOIN concept c ON c.id = w.concept_id
		WHERE w.program_id = $1 ORDER BY w.created_at`, p.ID)
	if err != nil {
		return errors.Wrap(err, "list workflows")
	}
	defer rows.Close()
	byID := make(map[uuid.UUID]*Workflow)
	for rows.Next() {
		var wf Workflow
		if err := rows.Scan(&wf.ID, &wf.UUID, &wf.ProgramID, &wf.ConceptUUID, &wf.Retired); err != nil {
			return errors.Wrap(err, "scan workflow")
		}
		p.Workflows = append(p.Workflows, &wf)
		byID[wf.ID] = &wf
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "list workflows")
	}
	rows.Close()

	stateRows, err := r.conn(ctx).Query(ctx, `
		SELECT `+stateCols+`
		FROM program_workflow_state s
		JOIN program_workflow w ON w.id = s.program_workflow_id
		JOIN concept c ON c.id = s.concept_id
		WHERE w.program_id = $1 ORDER BY s.created_at`, p.ID)
	if err != nil {
		return errors.Wrap(err, "list states")
	}
	defer stateRows.Close()
	for stateRows.Next() {
		s, err := scanState(stateRows)
		if err != nil {
			return err
		}
		if wf, ok := byID[s.WorkflowID]; ok {
			wf.States = append(wf.States, s)
		}
	}
	return errors.Wrap(stateRows.Err(), "list states")
}

const stateCols = `s.id, s.uuid, s.program_workflow_id, s.initial, s.terminal, s.retired,
	c.id, c.uuid, c.name, c.description`

func scanState(row pgx.Row) (*State, error) {
	var s State
	var c concept.Concept
	err := row.Scan(&s.ID, &s.UUID, &s.WorkflowID, &s.Initial, &s.Terminal, &s.Retired,
		&c.ID, &c.UUID, &c.Name, &c.Description)
	if err != nil {
		return nil, errors.Wrap(err, "scan state")
	}
	s.Concept = &c
	return &s, nil
}

func (r *programRepoPG) Create(ctx context.Context, p *Program) error {
	p.ID = uuid.New()
	if p.UUID == "" {
		p.UUID = p.ID.String()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO program (id, uuid, concept_id, name, description, retired)
		VALUES ($1, $2, `+sprintfConcept(3)+`, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.UUID, p.ConceptUUID, p.Name, p.Description, p.Retired,
	).Scan(&p.CreatedAt)
	return errors.Wrap(err, "create program", j.KV("uuid", p.UUID))
}

func (r *programRepoPG) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	wf.ID = uuid.New()
	if wf.UUID == "" {
		wf.UUID = wf.ID.String()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO program_workflow (id, uuid, program_id, concept_id, retired)
		VALUES ($1, $2, $3, `+sprintfConcept(4)+`, $5)`,
		wf.ID, wf.UUID, wf.ProgramID, wf.ConceptUUID, wf.Retired,
	)
	return errors.Wrap(err, "create workflow", j.KV("uuid", wf.UUID))
}

func (r *programRepoPG) CreateState(ctx context.Context, s *State) error {
	s.ID = uuid.New()
	if s.UUID == "" {
		s.UUID = s.ID.String()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO program_workflow_state (id, uuid, program_workflow_id, concept_id, initial, terminal, retired)
		VALUES ($1, $2, $3, `+sprintfConcept(4)+`, $5, $6, $7)`,
		s.ID, s.UUID, s.WorkflowID, s.Concept.UUID, s.Initial, s.Terminal, s.Retired,
	)
	return errors.Wrap(err, "create state", j.KV("uuid", s.UUID))
}

func (r *programRepoPG) UpdateState(ctx context.Context, s *State) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE program_workflow_state SET initial = $2, terminal = $3, retired = $4
		WHERE id = $1`,
		s.ID, s.Initial, s.Terminal, s.Retired,
	)
	return errors.Wrap(err, "update state", j.KV("uuid", s.UUID))
}

// =========== Enrollment Repository ===========

type enrollmentRepoPG struct{ pool *pgxpool.Pool }

func NewEnrollmentRepoPG(pool *pgxpool.Pool) EnrollmentRepository {
	return &enrollmentRepoPG{pool: pool}
}

func (r *enrollmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const enrollmentCols = `id, patient_id, program_id, location_id, date_enrolled, date_completed,
	voided, created_at, updated_at`

func (r *enrollmentRepoPG) scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.PatientID, &e.ProgramID, &e.LocationID,
		&e.DateEnrolled, &e.DateCompleted, &e.Voided, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *enrollmentRepoPG) Create(ctx context.Context, e *Enrollment) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_program (id, patient_id, program_id, location_id,
			date_enrolled, date_completed, voided)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.ProgramID, e.LocationID,
		e.DateEnrolled, e.DateCompleted, e.Voided,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "create enrollment", j.KV("patient_id", e.PatientID))
	}
	for _, ps := range e.States {
		ps.EnrollmentID = e.ID
	}
	return nil
}

func (r *enrollmentRepoPG) Update(ctx context.Context, e *Enrollment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_program SET location_id = $2, date_enrolled = $3,
			date_completed = $4, voided = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.LocationID, e.DateEnrolled, e.DateCompleted, e.Voided,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(ErrNotFound, "enrollment", j.KV("id", e.ID))
	}
	return errors.Wrap(err, "update enrollment", j.KV("id", e.ID))
}

func (r *enrollmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := r.scanEnrollment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM patient_program WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "enrollment", j.KV("id", id))
	} else if err != nil {
		return nil, errors.Wrap(err, "get enrollment", j.KV("id", id))
	}
	if err := r.loadStates(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *enrollmentRepoPG) Find(ctx context.Context, f EnrollmentFilter) ([]*Enrollment, error) {
	query := `SELECT ` + enrollmentCols + ` FROM patient_program
		WHERE ($1::uuid IS NULL OR patient_id = $1)
		  AND ($2::uuid IS NULL OR program_id = $2)
		  AND ($3 OR NOT voided)
		ORDER BY date_enrolled NULLS LAST, created_at`
	rows, err := r.conn(ctx).Query(ctx, query, nullUUID(f.PatientID), nullUUID(f.ProgramID), f.IncludeVoided)
	if err != nil {
		return nil, errors.Wrap(err, "find enrollments")
	}
	defer rows.Close()
	var items []*Enrollment
	for rows.Next() {
		e, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan enrollment")
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "find enrollments")
	}
	rows.Close()

	for _, e := range items {
		if err := r.loadStates(ctx, e); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *enrollmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Enrollment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_program WHERE patient_id = $1 AND NOT voided`, patientID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count enrollments")
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+enrollmentCols+` FROM patient_program
		WHERE patient_id = $1 AND NOT voided
		ORDER BY date_enrolled DESC NULLS LAST LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list enrollments")
	}
	defer rows.Close()
	var items []*Enrollment
	for rows.Next() {
		e, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan enrollment")
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list enrollments")
	}
	rows.Close()

	for _, e := range items {
		if err := r.loadStates(ctx, e); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *enrollmentRepoPG) loadStates(ctx context.Context, e *Enrollment) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ps.id, ps.patient_program_id, ps.start_date, ps.end_date, ps.voided, ps.created_at,
			`+stateCols+`
		FROM patient_state ps
		JOIN program_workflow_state s ON s.id = ps.state_id
		JOIN concept c ON c.id = s.concept_id
		WHERE ps.patient_program_id = $1
		ORDER BY ps.start_date, ps.created_at`, e.ID)
	if err != nil {
		return errors.Wrap(err, "list patient states", j.KV("enrollment_id", e.ID))
	}
	defer rows.Close()
	e.States = nil
	for rows.Next() {
		var ps PatientState
		var s State
		var c concept.Concept
		if err := rows.Scan(&ps.ID, &ps.EnrollmentID, &ps.StartDate, &ps.EndDate, &ps.Voided, &ps.CreatedAt,
			&s.ID, &s.UUID, &s.WorkflowID, &s.Initial, &s.Terminal, &s.Retired,
			&c.ID, &c.UUID, &c.Name, &c.Description); err != nil {
			return errors.Wrap(err, "scan patient state")
		}
		s.Concept = &c
		ps.State = &s
		e.States = append(e.States, &ps)
	}
	return errors.Wrap(rows.Err(), "list patient states")
}

func (r *enrollmentRepoPG) AddState(ctx context.Context, ps *PatientState) error {
	ps.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_state (id, patient_program_id, state_id, start_date, end_date, voided)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		ps.ID, ps.EnrollmentID, ps.State.ID, ps.StartDate, ps.EndDate, ps.Voided,
	).Scan(&ps.CreatedAt)
	return errors.Wrap(err, "add patient state", j.KV("enrollment_id", ps.EnrollmentID))
}

func (r *enrollmentRepoPG) UpdateState(ctx context.Context, ps *PatientState) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_state SET end_date = $2, voided = $3 WHERE id = $1`,
		ps.ID, ps.EndDate, ps.Voided,
	)
	return errors.Wrap(err, "update patient state", j.KV("id", ps.ID))
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func sprintfConcept(arg int) string {
	return fmt.Sprintf(conceptByUUID, arg)
}
