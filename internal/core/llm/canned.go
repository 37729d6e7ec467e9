package llm

import (
	"context"
	"strings"

	"github.com/coppicehq/coppice/internal/core/token"
)

// cannedResponses cycle deterministically so tests and demos are repeatable
var cannedResponses = []string{
	"Thanks for your message. Let me look at that against your data source.",
	"Based on the data available, here is what stands out.",
	"Interesting question. The data suggests a few angles worth exploring.",
	"Here is how I would approach that analysis with this data source.",
	"Your data contains patterns relevant to that; let me walk through them.",
}

// contextAwareResponses open the conversation per data source type
var contextAwareResponses = map[string]string{
	"csv":      "You're working with CSV data. I can help you explore patterns, run calculations, and pull out insights.",
	"xlsx":     "You're using a spreadsheet source. I can work across sheets and extract what matters.",
	"postgres": "You're connected to PostgreSQL. I can help you query your relational data and build up more complex analysis.",
	"mysql":    "You're working with MySQL. I can assist with queries, joins, and aggregate analysis.",
	"mongodb":  "You're using MongoDB. I can help with document queries and aggregations.",
	"pdf":      "You're working with PDF documents. I can help extract and summarize what's in them.",
}

// CannedProvider is a deterministic offline provider. It stands in for a real
// model during development and in tests, but still renders the prompt the way
// a network-bound provider would, so template problems surface early.
type CannedProvider struct {
	estimator *token.Estimator
	template  string
}

// NewCannedProvider creates a canned provider with the default prompt template
func NewCannedProvider() *CannedProvider {
	return NewCannedProviderWithTemplate("")
}

// NewCannedProviderWithTemplate creates a canned provider rendering the given
// mustache prompt template. Empty means the default template.
func NewCannedProviderWithTemplate(template string) *CannedProvider {
	return &CannedProvider{
		estimator: token.NewEstimator(token.DefaultCharsPerToken),
		template:  template,
	}
}

// Name returns the provider name
func (p *CannedProvider) Name() string { return "canned" }

// Generate picks a response keyed off the user turn, honoring context
// cancellation the way a network-bound provider would.
func (p *CannedProvider) Generate(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, &GenerationError{Provider: p.Name(), Err: ctx.Err()}
	default:
	}

	if _, err := BuildPrompt(p.template, req); err != nil {
		return Reply{}, &GenerationError{Provider: p.Name(), Err: err}
	}

	content, ok := contextAwareResponses[strings.ToLower(req.Session.DataSourceType)]
	if !ok || len(req.Context) > 1 {
		// Past the opening turn, cycle by user content so edits of the same
		// turn produce a different (but stable) reply.
		content = cannedResponses[len(req.UserTurn.Content)%len(cannedResponses)]
	}

	if strings.Contains(strings.ToLower(req.UserTurn.Content), "analyze") {
		content = "I'll help you analyze that. " + content
	} else if strings.Contains(req.UserTurn.Content, "?") {
		content = "Good question. " + content
	}

	return Reply{
		Content:    content,
		TokenCount: p.estimator.Estimate(content),
		Model:      "canned-v1",
	}, nil
}
