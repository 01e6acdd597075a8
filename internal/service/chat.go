package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresouza/chatd/internal/adapter/ollama"
	"github.com/andresouza/chatd/internal/config"
	"github.com/andresouza/chatd/internal/domain"
)

// fallbackResponses are shown when generation fails. The user never sees raw
// transport error text.
var fallbackResponses = []string{
	"Desculpe, estou com dificuldades técnicas no momento. Tente novamente em alguns instantes.",
	"Ocorreu um problema temporário. Por favor, reformule sua pergunta.",
	"Estou passando por algumas dificuldades técnicas. Tente novamente.",
}

// ChatOptions are the caller-facing generation parameters for SendMessage.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Backend     *ollama.BackendConfig
	Metadata    domain.Metadata
	// OnDelta, when set, receives incremental output while the assistant
	// reply streams in.
	OnDelta ollama.Callback
}

// SendMessageResult is what callers get back from SendMessage.
type SendMessageResult struct {
	UserMessage      *domain.Message `json:"userMessage"`
	AssistantMessage *domain.Message `json:"assistantMessage"`
	Session          *domain.Session `json:"session"`
}

// SendMessage appends the user message to a session (creating one when no
// session is referenced), generates the assistant reply and appends it. A
// generation failure degrades to a canned reply instead of an error; only
// session resolution and store failures propagate.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string, opts ChatOptions) (*SendMessageResult, error) {
	session, err := s.resolveSession(ctx, sessionID, content, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMsg := &domain.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   content,
		Status:    domain.MessageStatusDelivered,
		Metadata:  opts.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to append user message: %w", err)
	}

	// Activity reflects user engagement even if generation degrades below.
	if err := s.store.TouchSession(ctx, session.ID); err != nil {
		s.logger.Warn("failed to touch session activity",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	session.Touch()

	history, err := s.store.GetMessages(ctx, session.ID, config.RecentMessagesLimit)
	if err != nil {
		s.logger.Warn("failed to load history, generating without it",
			zap.String("session_id", session.ID), zap.Error(err))
		history = nil
	}

	assistantMsg, err := s.generateReply(ctx, session, content, history, opts)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to append assistant message: %w", err)
	}

	// Runs once per session in the common case; if an earlier title update
	// never landed, the next message retries with its own text.
	if !session.HasGeneratedTitle() {
		s.spawnTitleGeneration(session.ID, content)
	}

	return &SendMessageResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Session:          session,
	}, nil
}

// resolveSession loads the referenced session or creates a fresh one with a
// heuristic title. Session creation never touches the inference backend.
func (s *Service) resolveSession(ctx context.Context, sessionID, content string, opts ChatOptions) (*domain.Session, error) {
	if sessionID != "" {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if session == nil {
			return nil, domain.ErrSessionNotFound
		}
		return session, nil
	}

	now := time.Now()
	metadata := domain.Metadata{}
	if opts.Model != "" {
		metadata["model"] = opts.Model
	}
	if opts.Temperature != 0 {
		metadata["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		metadata["maxTokens"] = opts.MaxTokens
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	session := &domain.Session{
		ID:             uuid.New().String(),
		Title:          heuristicTitle(content),
		Status:         domain.SessionStatusActive,
		Metadata:       metadata,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// generateReply builds the prompt, calls the backend and wraps the outcome
// in an assistant message. Upstream failures degrade to a canned reply; the
// original error survives only in metadata.
func (s *Service) generateReply(ctx context.Context, session *domain.Session, content string, history []domain.Message, opts ChatOptions) (*domain.Message, error) {
	prompt := BuildContext(history, content)
	usedHistory := len(history) > 0

	result, err := s.llm.Generate(ctx, prompt, ollama.Options{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Backend:     opts.Backend,
	}, opts.OnDelta)

	now := time.Now()
	msg := &domain.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      domain.RoleAssistant,
		Status:    domain.MessageStatusDelivered,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Error("generation failed, degrading",
			zap.String("session_id", session.ID), zap.Error(err))
		msg.Content = fallbackResponses[s.pickFallback(len(fallbackResponses))]
		msg.Metadata = domain.Metadata{
			"model":       "fallback",
			"degraded":    true,
			"error":       err.Error(),
			"usedHistory": false,
		}
		return msg, nil
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	msg.Content = result.Content
	msg.Metadata = domain.Metadata{
		"model":            result.Model,
		"temperature":      temperature,
		"tokenCount":       result.TokenCount,
		"processingTimeMs": result.ProcessingTime.Milliseconds(),
		"usedHistory":      usedHistory,
	}
	return msg, nil
}

// heuristicTitle derives a cheap initial title from the first words of the
// message, without calling the backend.
func heuristicTitle(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return domain.DefaultSessionTitle
	}
	if len(words) <= 5 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:5], " ") + "..."
}

// AttachFile appends an attachment to an existing message. The only mutation
// a delivered message accepts.
func (s *Service) AttachFile(ctx context.Context, messageID string, attachment domain.Attachment) (*domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return nil, domain.ErrMessageNotFound
	}

	msg.AddAttachment(attachment)
	if err := s.store.UpdateMessageAttachments(ctx, messageID, msg.Attachments); err != nil {
		return nil, fmt.Errorf("failed to update attachments: %w", err)
	}
	return msg, nil
}
