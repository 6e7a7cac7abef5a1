package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// AgentClient talks to the AI agent system's chat endpoint.
type AgentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewAgentClient(baseURL, apiKey string, httpClient *http.Client) *AgentClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type agentRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (c *AgentClient) Send(ctx context.Context, content, token string) (Reply, error) {
	body, _ := json.Marshal(agentRequest{Message: content, ConversationID: token})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, transportError("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, transportError("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Reply{}, transportError("agent error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, transportError("decode reply: %v", err)
	}
	if reply.ConversationToken == "" {
		reply.ConversationToken = token
	}
	return reply, nil
}
