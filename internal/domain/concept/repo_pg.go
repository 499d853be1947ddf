package concept

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ehr/careflow/internal/platform/db"
)

type conceptRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &conceptRepoPG{pool: pool}
}

const conceptCols = `id, uuid, name, description, retired, created_at`

func (r *conceptRepoPG) GetByUUID(ctx context.Context, conceptUUID string) (*Concept, error) {
	var c Concept
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+conceptCols+` FROM concept WHERE lower(uuid) = lower($1)`, conceptUUID).
		Scan(&c.ID, &c.UUID, &c.Name, &c.Description, &c.Retired, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "", j.KV("uuid", conceptUUID))
	} else if err != nil {
		return nil, errors.Wrap(err, "get concept", j.KV("uuid", conceptUUID))
	}
	return &c, nil
}
