package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// systemInstruction pins the assistant to the single-JSON-object contract the
// normalizer expects: explanation text plus generated files, build steps and
// run commands.
const systemInstruction = `You are BUTO AI, a senior software developer assistant for a collaborative
project workspace. Respond with exactly one JSON object and nothing else:

{
  "explanation": "detailed explanation in markdown",
  "files": { "filename.ext": "complete file content", ... },
  "buildSteps": ["build instruction", ...],
  "runCommands": ["execution command", ...]
}

Rules:
- Always provide the explanation in markdown.
- Always include complete, functional code in files.
- Use proper file extensions and include all necessary imports.
- Omit files, buildSteps and runCommands only when the request needs no code.`

// Completer is the completion gateway: prompt in, raw model text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientConfig holds configuration for the OpenAI-compatible client.
type ClientConfig struct {
	Endpoint string // base URL including /v1
	APIKey   string // may be empty for local endpoints
	Model    string
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a completion client against an OpenAI-compatible endpoint.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("ai: endpoint is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("ai: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("ai"),
	}, nil
}

// Complete implements Completer using the chat completions API.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		statusCode := 0
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			statusCode = apiErr.HTTPStatusCode
		}
		classified := classifyUpstream(statusCode, err)
		c.logger.Warn("completion request failed",
			zap.String("class", string(classified.Class)),
			zap.Int("status", statusCode),
			zap.Error(err))
		return "", classified
	}

	if len(resp.Choices) == 0 {
		return "", newError(ErrorClassUpstream, 0, fmt.Errorf("no choices in response"))
	}

	c.logger.Debug("completion request finished",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}
