package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrTransport wraps every failure to reach the agent or get a usable reply.
var ErrTransport = errors.New("chat transport failed")

// Reply is one answer from the agent together with the token that continues
// the conversation.
type Reply struct {
	Content           string `json:"content"`
	ConversationToken string `json:"conversationId"`
}

// Transport sends one user turn to the agent. An empty token starts a new
// conversation.
type Transport interface {
	Send(ctx context.Context, content, token string) (Reply, error)
}

type Options struct {
	Provider     string
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	MaxTokens    int
	Timeout      time.Duration
	Logger       *slog.Logger
}

// New builds the transport named by opts.Provider.
func New(opts Options) (Transport, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	client := &http.Client{Timeout: opts.Timeout}

	switch opts.Provider {
	case "agent":
		return NewAgentClient(opts.Endpoint, opts.APIKey, client), nil
	case "lmstudio":
		return NewLMStudioClient(opts, client), nil
	case "echo":
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", opts.Provider)
	}
}

func transportError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
