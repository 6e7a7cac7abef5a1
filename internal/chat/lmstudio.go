package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxHistory bounds the turns replayed to the model per conversation.
const maxHistory = 20

// LMStudioClient speaks the OpenAI-compatible chat completions API served by
// LM Studio. The server is stateless, so history is kept here per token.
type LMStudioClient struct {
	baseURL      string
	model        string
	apiKey       string
	systemPrompt string
	maxTokens    int
	httpClient   *http.Client
	logger       *slog.Logger

	mu      sync.Mutex
	history map[string][]ChatMessage
}

func NewLMStudioClient(opts Options, httpClient *http.Client) *LMStudioClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Model == "" {
		opts.Model = "local-model"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 512
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LMStudioClient{
		baseURL:      strings.TrimRight(opts.Endpoint, "/"),
		model:        opts.Model,
		apiKey:       opts.APIKey,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
		httpClient:   httpClient,
		logger:       opts.Logger,
		history:      make(map[string][]ChatMessage),
	}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Send continues the conversation identified by token, starting a new one
// when the token is empty or unknown.
func (c *LMStudioClient) Send(ctx context.Context, content, token string) (Reply, error) {
	c.mu.Lock()
	if token == "" {
		token = uuid.NewString()
	}
	past := append([]ChatMessage(nil), c.history[token]...)
	c.mu.Unlock()

	messages := make([]ChatMessage, 0, len(past)+2)
	if c.systemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, past...)
	messages = append(messages, ChatMessage{Role: "user", Content: content})

	answer, err := c.complete(ctx, messages)
	if err != nil {
		return Reply{}, err
	}

	c.mu.Lock()
	h := append(c.history[token],
		ChatMessage{Role: "user", Content: content},
		ChatMessage{Role: "assistant", Content: answer})
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	c.history[token] = h
	c.mu.Unlock()

	return Reply{Content: answer, ConversationToken: token}, nil
}

// Call runs a single prompt without touching any conversation. It lets the
// client serve as the contract analyzer's summarizer.
func (c *LMStudioClient) Call(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var messages []ChatMessage
	if systemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})
	return c.complete(ctx, messages)
}

// Forget drops the stored history for token.
func (c *LMStudioClient) Forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, token)
}

func (c *LMStudioClient) complete(ctx context.Context, messages []ChatMessage) (string, error) {
	body, _ := json.Marshal(ChatRequest{Model: c.model, Messages: messages, MaxTokens: c.maxTokens})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", transportError("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", transportError("LM Studio error: %s", strings.TrimSpace(string(b)))
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", transportError("decode response: %v", err)
	}
	if len(result.Choices) == 0 {
		return "", transportError("LM Studio returned no choices")
	}

	c.logger.Debug("chat completion", "model", result.Model, "tokens", result.Usage.TotalTokens)
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
