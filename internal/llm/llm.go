package llm

import "context"

// Message is one chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
	// JSON asks the provider for a JSON object when it supports that.
	JSON bool
}

// Client is a chat completion provider. onDelta, when not nil, receives
// the text as it streams in; the full text is returned at the end.
type Client interface {
	Stream(ctx context.Context, req Request, onDelta func(string)) (string, error)
}
