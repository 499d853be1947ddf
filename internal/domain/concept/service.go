package concept

import (
	"context"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetConceptByUUID returns ErrNotFound for unknown and retired concepts.
func (s *Service) GetConceptByUUID(ctx context.Context, conceptUUID string) (*Concept, error) {
	if strings.TrimSpace(conceptUUID) == "" {
		return nil, errors.Wrap(ErrNotFound, "empty concept uuid")
	}
	c, err := s.repo.GetByUUID(ctx, conceptUUID)
	if err != nil {
		return nil, err
	}
	if c.Retired {
		return nil, errors.Wrap(ErrNotFound, "concept retired", j.KV("uuid", conceptUUID))
	}
	return c, nil
}
