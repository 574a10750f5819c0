package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wardops/wardops/internal/platform/apperr"
)

// Static is an in-memory roster. It backs tests and ROSTER_SOURCE=static.
type Static struct {
	mu       sync.RWMutex
	patients map[string]Patient
	order    []string
}

// NewStatic returns a roster holding patients.
func NewStatic(patients ...Patient) *Static {
	s := &Static{patients: make(map[string]Patient)}
	for _, p := range patients {
		s.Put(p)
	}
	return s
}

// LoadStatic reads a JSON array of patients. A patient without an "active"
// field is active.
func LoadStatic(r io.Reader) (*Static, error) {
	var rows []struct {
		Patient
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	s := NewStatic()
	for i, row := range rows {
		p := row.Patient
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("roster patient %d has no id", i)
		}
		p.Active = row.Active == nil || *row.Active
		s.Put(p)
	}
	return s, nil
}

// Put adds or replaces a patient.
func (s *Static) Put(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.patients[p.ID] = p
}

// Discharge marks a patient inactive.
func (s *Static) Discharge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patients[id]; ok {
		p.Active = false
		s.patients[id] = p
	}
}

func (s *Static) GetPatient(_ context.Context, id string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok || !p.Active {
		return nil, apperr.NotFound("patient", id)
	}
	return &p, nil
}

func (s *Static) ListPatients(_ context.Context) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.patients[id])
	}
	return out, nil
}
