// Package questiongen asks an OpenAI-compatible chat completions endpoint for
// coding and viva questions.
package questiongen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrEmptyCompletion = errors.New("model returned no content")

type CodingQuestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Constraints string `json:"constraints"`
}

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

const codingSystemPrompt = `You write programming exam problems. Reply with a single JSON object with the string fields "title", "description" and "constraints". The description states the task with at least one example input and output.`

const vivaSystemPrompt = `You are an examiner holding a short oral exam (viva). Ask exactly one question that checks whether the student understands the solution they wrote. Reply with the question only.`

// CodingQuestion generates a coding problem of the given difficulty.
func (c *Client) CodingQuestion(ctx context.Context, difficulty, topic string) (*CodingQuestion, error) {
	content, err := c.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: codingSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Difficulty: %s\nTopic: %s", difficulty, topic)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var q CodingQuestion
	if err := json.Unmarshal([]byte(stripFence(content)), &q); err != nil {
		return nil, fmt.Errorf("decode coding question: %w", err)
	}
	if strings.TrimSpace(q.Title) == "" || strings.TrimSpace(q.Description) == "" {
		return nil, fmt.Errorf("decode coding question: %w", ErrEmptyCompletion)
	}
	return &q, nil
}

// VivaQuestion generates one viva question about code.
func (c *Client) VivaQuestion(ctx context.Context, topic, code string) (string, error) {
	content, err := c.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: vivaSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Subject: %s\n\nStudent solution:\n%s", topic, code)},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	body.Model = c.cfg.Model
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode model response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}

// stripFence removes a surrounding ``` block some models add around JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
