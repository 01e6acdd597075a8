package service

import (
	"fmt"
	"strings"

	"github.com/andresouza/chatd/internal/config"
	"github.com/andresouza/chatd/internal/domain"
)

const (
	userLabel      = "Usuário"
	assistantLabel = "Resposta"

	// contextSuffix tells the model to answer without repeating a role label.
	contextSuffix = "Por favor, responda diretamente sem prefixos:"
)

// BuildContext renders the trailing window of history plus the new utterance
// into a single prompt. Histories longer than the window are silently
// truncated from the front. System messages render under the assistant
// label. Pure; no I/O.
func BuildContext(history []domain.Message, newUtterance string) string {
	if len(history) > config.HistoryWindow {
		history = history[len(history)-config.HistoryWindow:]
	}

	var b strings.Builder
	for _, msg := range history {
		label := assistantLabel
		if msg.Role == domain.RoleUser {
			label = userLabel
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, msg.Content)
	}
	fmt.Fprintf(&b, "%s: %s\n\n%s", userLabel, newUtterance, contextSuffix)
	return b.String()
}
