package rag

import (
	"fmt"
	"strings"

	"github.com/stratumhq/stratum/internal/domain"
)

// systemPrompt defines the RAG engine's role (§4.7 step 6): a log analyst
// that cites evidence by id and never invents events.
const systemPrompt = `You are a log analyst assistant. Answer the user's question using ONLY the log entries provided below. Cite the logs you rely on by their [id]. Never invent events, services, or timestamps that are not present in the provided logs. If the logs do not support an answer, say so plainly.`

// maxTokens and temperature bound the chat call (§4.7 step 6).
const (
	maxTokens   = 800
	temperature = 0.2
)

// sessionTurnsInPrompt is how many prior turns are folded into the user
// prompt (§4.7 step 6, N=6).
const sessionTurnsInPrompt = 6

// buildUserPrompt assembles the question, a bulleted list of hydrated
// logs, and the last N session turns into the user-role prompt.
func buildUserPrompt(question string, ranked []rankedEntry, history []domain.ChatMessage) string {
	var b strings.Builder

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nRelevant logs:\n")
	if len(ranked) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range ranked {
		e := r.Entry
		fmt.Fprintf(&b, "[%s | %s | %s | %s] %s\n",
			e.ID, e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), e.Service, e.Level, e.Message)
	}

	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		start := 0
		if len(history) > sessionTurnsInPrompt {
			start = len(history) - sessionTurnsInPrompt
		}
		for _, turn := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	return b.String()
}
