package llm

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/coppicehq/coppice/internal/core/models"
)

// DefaultSystemPrompt frames the assistant around the session's data source.
// Overridable via config; rendered with mustache like every other prompt
// template in this codebase.
const DefaultSystemPrompt = `You are a data analysis assistant for the data source "{{data_source_name}}" ({{data_source_type}}).
Session: {{title}}

Answer using only the conversation below. Be concise and concrete.`

// BuildPrompt renders the system prompt and flattens the context window into
// a single prompt string for providers that take raw text.
func BuildPrompt(template string, req Request) (string, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultSystemPrompt
	}

	data := map[string]interface{}{
		"data_source_name": req.Session.DataSourceName,
		"data_source_type": req.Session.DataSourceType,
		"title":            req.Session.Title,
		"session_id":       req.Session.SessionID,
	}

	system, err := mustache.Render(template, data)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	for _, msg := range req.Context {
		role := "Human"
		if msg.Role == models.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")

	return b.String(), nil
}
