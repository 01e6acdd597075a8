package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/andresouza/chatd/internal/adapter/ollama"
	"github.com/andresouza/chatd/internal/domain"
)

const (
	titleMaxTokens = 50

	titleMaxLen      = 40
	fallbackTitleLen = 30
)

const titlePrompt = `Based on this user message, generate a short, descriptive title (maximum 4-5 words) for a conversation. Respond only with the title, no quotes, no explanation:

User message: "%s"

Title:`

// GenerateTitle asks the backend for a short conversation title. It never
// fails: any backend problem falls back to a heuristic extraction from the
// text itself, and an empty outcome becomes the default title.
func (s *Service) GenerateTitle(ctx context.Context, firstUserText string) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TitleTimeout)
	defer cancel()

	result, err := s.llm.Generate(ctx, fmt.Sprintf(titlePrompt, firstUserText), ollama.Options{
		MaxTokens: titleMaxTokens,
	}, nil)
	if err != nil {
		s.logger.Warn("title generation failed, using fallback", zap.Error(err))
		return fallbackTitle(firstUserText)
	}
	return cleanTitle(result.Content)
}

// spawnTitleGeneration runs title generation detached from the request that
// triggered it, with its own cancellation scope. Completion or failure never
// affects the response already returned to the caller.
func (s *Service) spawnTitleGeneration(sessionID, firstUserText string) {
	s.titleJobs.Add(1)
	go func() {
		defer s.titleJobs.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TitleTimeout+5*time.Second)
		defer cancel()

		title := s.GenerateTitle(ctx, firstUserText)
		if err := s.store.UpdateSessionTitle(ctx, sessionID, title, domain.Metadata{"titleGenerated": true}); err != nil {
			s.logger.Warn("failed to store generated title",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		s.logger.Info("session title generated",
			zap.String("session_id", sessionID), zap.String("title", title))
	}()
}

// cleanTitle normalizes the model's raw title output: quotes removed,
// whitespace collapsed, truncated with an ellipsis.
func cleanTitle(raw string) string {
	cleaned := strings.NewReplacer(`"`, "", `'`, "", "\n", " ").Replace(raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if r := []rune(cleaned); len(r) > titleMaxLen {
		cleaned = string(r[:titleMaxLen-3]) + "..."
	}
	if cleaned == "" {
		return domain.DefaultSessionTitle
	}
	return cleaned
}

// fallbackTitle extracts a title from the message itself: punctuation
// stripped, first four words, capitalized, truncated.
func fallbackTitle(message string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, message)

	words := strings.Fields(stripped)
	if len(words) == 0 {
		return domain.DefaultSessionTitle
	}
	if len(words) > 4 {
		words = words[:4]
	}

	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > fallbackTitleLen {
		title = string(r[:fallbackTitleLen-3]) + "..."
	}

	r := []rune(title)
	return string(unicode.ToUpper(r[0])) + strings.ToLower(string(r[1:]))
}
