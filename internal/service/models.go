package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/andresouza/chatd/internal/adapter/ollama"
)

// ListModels returns the models installed on the backend. Failures collapse
// to an empty list; callers treat "no models" as a degraded state, not an
// error.
func (s *Service) ListModels(ctx context.Context) []ollama.Model {
	models, err := s.llm.ListModels(ctx)
	if err != nil {
		s.logger.Warn("failed to list models", zap.Error(err))
		return nil
	}
	return models
}

// Status describes backend availability.
type Status struct {
	Connected   bool      `json:"connected"`
	Models      int       `json:"models"`
	LastChecked time.Time `json:"lastChecked"`
}

// Status probes the backend. Never fails; an unreachable backend simply
// reports as disconnected.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Connected:   s.llm.Health(ctx),
		LastChecked: time.Now(),
	}
	if st.Connected {
		st.Models = len(s.ListModels(ctx))
	}
	return st
}
