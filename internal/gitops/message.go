package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// MessageRequest contains the context for generating a squash commit message.
type MessageRequest struct {
	IssueID      string
	IssueTitle   string
	IssueContent string
	ChangedFiles []string
	Diff         string
}

// MessageResponse is the generated commit message.
type MessageResponse struct {
	// Subject is the commit subject line (50 chars or less)
	Subject string `json:"subject"`

	// Body is the detailed commit message body
	Body string `json:"body"`
}

// MessageGenerator generates squash-merge commit messages using AI. It is
// optional: when no API key is configured the merge queue falls back to a
// templated message.
type MessageGenerator struct {
	client        *anthropic.Client
	model         string
	retryAttempts int
}

// NewMessageGenerator creates a new MessageGenerator.
func NewMessageGenerator(client *anthropic.Client, model string) *MessageGenerator {
	return &MessageGenerator{
		client:        client,
		model:         model,
		retryAttempts: 3,
	}
}

// Generate produces a commit message for the given change set.
func (m *MessageGenerator) Generate(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	prompt := m.buildPrompt(req)

	var response *anthropic.Message
	err := m.retryWithBackoff(ctx, "commit-message", func(attemptCtx context.Context) error {
		resp, apiErr := m.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(m.model),
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate commit message: %w", err)
	}

	var responseText string
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	msg, err := parseMessageResponse(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commit message response: %w (response: %s)", err, responseText)
	}
	return msg, nil
}

// FallbackMessage builds a templated commit message when no generator is
// available or generation fails.
func FallbackMessage(req MessageRequest) string {
	subject := fmt.Sprintf("Merge %s: %s", req.IssueID, req.IssueTitle)
	if len(subject) > 72 {
		subject = subject[:69] + "..."
	}

	var body strings.Builder
	body.WriteString(subject)
	if len(req.ChangedFiles) > 0 {
		body.WriteString("\n\nChanged files:\n")
		for _, f := range req.ChangedFiles {
			body.WriteString("- " + f + "\n")
		}
	}
	return body.String()
}

// parseMessageResponse extracts the JSON payload from the model response,
// tolerating a surrounding markdown code fence.
func parseMessageResponse(text string) (*MessageResponse, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var msg MessageResponse
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return nil, err
	}
	if msg.Subject == "" {
		return nil, fmt.Errorf("response has no subject")
	}
	return &msg, nil
}

// buildPrompt constructs the prompt for commit message generation.
func (m *MessageGenerator) buildPrompt(req MessageRequest) string {
	var prompt strings.Builder

	prompt.WriteString("You are a commit message generator for an autonomous backlog executor.\n\n")
	prompt.WriteString("Generate a clear, concise squash-merge commit message.\n\n")

	prompt.WriteString("## Issue Context\n\n")
	prompt.WriteString(fmt.Sprintf("**Issue ID**: %s\n", req.IssueID))
	prompt.WriteString(fmt.Sprintf("**Title**: %s\n", req.IssueTitle))
	if req.IssueContent != "" {
		prompt.WriteString(fmt.Sprintf("**Description**: %s\n", req.IssueContent))
	}
	prompt.WriteString("\n## Changed Files\n\n")
	if len(req.ChangedFiles) > 0 {
		for _, file := range req.ChangedFiles {
			prompt.WriteString(fmt.Sprintf("- %s\n", file))
		}
	} else {
		prompt.WriteString("(no files listed)\n")
	}
	prompt.WriteString("\n")

	if req.Diff != "" {
		diff := req.Diff
		if len(diff) > 10000 {
			diff = diff[:10000] + "\n... (truncated)"
		}
		prompt.WriteString("## Diff\n\n```diff\n")
		prompt.WriteString(diff)
		prompt.WriteString("\n```\n\n")
	}

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("1. **Subject**: one line, 50 chars max, imperative mood, include the issue ID\n")
	prompt.WriteString("2. **Body**: what changed and why, wrapped at 72 chars\n\n")
	prompt.WriteString("Respond with JSON:\n")
	prompt.WriteString("```json\n{\n  \"subject\": \"...\",\n  \"body\": \"...\"\n}\n```\n")

	return prompt.String()
}

// retryWithBackoff retries an operation with exponential backoff.
func (m *MessageGenerator) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= m.retryAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}
		if attempt == m.retryAttempts {
			break
		}

		backoff := time.Duration(attempt) * time.Second
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, m.retryAttempts, lastErr)
}
