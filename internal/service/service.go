// Package service implements the conversational inference pipeline: prompt
// assembly, orchestration against the store and the Ollama backend, and
// background title generation.
package service

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/andresouza/chatd/internal/adapter/ollama"
	"github.com/andresouza/chatd/internal/config"
	"github.com/andresouza/chatd/internal/store"
)

// Service coordinates the store and the Ollama client.
type Service struct {
	store  store.Store
	llm    *ollama.Client
	cfg    *config.Config
	logger *zap.Logger

	// pickFallback selects among the canned degradation responses. Injected
	// so tests can pin the choice.
	pickFallback func(n int) int

	titleJobs sync.WaitGroup
}

// New creates a new service.
func New(st store.Store, llm *ollama.Client, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:        st,
		llm:          llm,
		cfg:          cfg,
		logger:       logger,
		pickFallback: rand.Intn,
	}
}

// Wait blocks until detached background work has finished. Used on shutdown.
func (s *Service) Wait() {
	s.titleJobs.Wait()
}
