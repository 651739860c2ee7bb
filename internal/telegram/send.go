package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/webextract/internal/orchestrator"
)

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

func runLabel(s orchestrator.Snapshot) string {
	if s.Name != "" {
		return s.Name
	}
	return "run"
}

func statusIcon(s orchestrator.Status) string {
	switch s {
	case orchestrator.StatusCompleted:
		return "✅"
	case orchestrator.StatusPartiallyFailed:
		return "⚠️"
	case orchestrator.StatusFailed:
		return "❌"
	case orchestrator.StatusRunning:
		return "⏳"
	default:
		return "🕒"
	}
}

// formatSummary renders a run as a short plain-text report.
func formatSummary(s orchestrator.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s (%d/%d agents succeeded)\n", statusIcon(s.Status), runLabel(s), s.Status, s.Succeeded(), len(s.Results))
	fmt.Fprintf(&sb, "id: %s\n", s.ID)
	if s.Reason != "" {
		fmt.Fprintf(&sb, "reason: %s\n", s.Reason)
	}
	if s.StartedAt != nil && s.EndedAt != nil {
		fmt.Fprintf(&sb, "took: %s\n", s.EndedAt.Sub(*s.StartedAt).Round(time.Millisecond))
	}
	for _, r := range s.Results {
		line := fmt.Sprintf("- %s: %s", r.Agent, r.Outcome)
		if r.Detail != "" {
			line += " (" + r.Detail + ")"
		}
		sb.WriteString(line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
