package concept

import (
	"context"
	"strings"
	"testing"

	"github.com/luno/jettison/errors"
)

// -- Mock Repository --

type mockRepo struct {
	concepts map[string]*Concept
	calls    int
}

func newMockRepo(cs ...*Concept) *mockRepo {
	m := &mockRepo{concepts: make(map[string]*Concept)}
	for _, c := range cs {
		m.concepts[strings.ToLower(c.UUID)] = c
	}
	return m
}

func (m *mockRepo) GetByUUID(_ context.Context, conceptUUID string) (*Concept, error) {
	m.calls++
	c, ok := m.concepts[strings.ToLower(conceptUUID)]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// -- Tests --

func TestGetConceptByUUID(t *testing.T) {
	repo := newMockRepo(&Concept{UUID: "0ae3326d-592b-4ce0-a523-6e03bbe99b69", Name: "Malnutrition status"})
	svc := NewService(repo)

	c, err := svc.GetConceptByUUID(context.Background(), "0AE3326D-592B-4CE0-A523-6E03BBE99B69")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "Malnutrition status" {
		t.Errorf("expected Malnutrition status, got %s", c.Name)
	}
}

func TestGetConceptByUUID_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.GetConceptByUUID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConceptByUUID_EmptyUUIDSkipsRepo(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	_, err := svc.GetConceptByUUID(context.Background(), "  ")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls)
	}
}

func TestGetConceptByUUID_Retired(t *testing.T) {
	svc := NewService(newMockRepo(&Concept{UUID: "old", Retired: true}))

	_, err := svc.GetConceptByUUID(context.Background(), "old")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for retired concept, got %v", err)
	}
}

func TestConceptEqual(t *testing.T) {
	a := &Concept{UUID: "abc-123"}
	tests := []struct {
		name  string
		other *Concept
		want  bool
	}{
		{"same uuid", &Concept{UUID: "abc-123"}, true},
		{"case differs", &Concept{UUID: "ABC-123"}, true},
		{"different uuid", &Concept{UUID: "def-456"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := a.Equal(tt.other); got != tt.want {
			t.Errorf("%s: Equal() = %v, want %v", tt.name, got, tt.want)
		}
	}

	var nilConcept *Concept
	if nilConcept.Equal(a) {
		t.Error("nil concept must not equal anything")
	}
	if (&Concept{}).Equal(&Concept{}) {
		t.Error("concepts without identifiers must not be equal")
	}
}

func TestConceptDescriptionOr(t *testing.T) {
	desc := "Tracks nutritional recovery"
	if got := (&Concept{Description: &desc}).DescriptionOr("fallback"); got != desc {
		t.Errorf("expected description, got %q", got)
	}
	if got := (&Concept{}).DescriptionOr("fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}
