package chat

import (
	"context"

	"github.com/google/uuid"
)

// Echo replies with the user's own text. It needs no agent and is used for
// local development.
type Echo struct{}

func (Echo) Send(ctx context.Context, content, token string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, transportError("%v", err)
	}
	if token == "" {
		token = uuid.NewString()
	}
	return Reply{Content: "You said: " + content, ConversationToken: token}, nil
}

// Call lets Echo stand in as an LLM caller.
func (Echo) Call(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return "", nil
}
