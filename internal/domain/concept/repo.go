package concept

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var ErrNotFound = errors.New("concept not found", j.C("ERR_c1a7e0d94b2f6a11"))

type Repository interface {
	GetByUUID(ctx context.Context, conceptUUID string) (*Concept, error)
}
