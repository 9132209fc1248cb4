// Package compiler proxies code execution requests to the JDoodle API.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrUnsupportedLanguage is returned for languages outside the version table.
var ErrUnsupportedLanguage = errors.New("language not supported")

// versions maps a language to the JDoodle versionIndex used for it.
var versions = map[string]string{
	"python":     "3",
	"java":       "4",
	"c":          "5",
	"cpp":        "5",
	"javascript": "3",
}

// VersionIndex looks up the version index for language, ignoring case.
func VersionIndex(language string) (string, bool) {
	v, ok := versions[strings.ToLower(strings.TrimSpace(language))]
	return v, ok
}

// Supported reports whether language can be executed.
func Supported(language string) bool {
	_, ok := VersionIndex(language)
	return ok
}

// Language is one entry of the public language listing.
type Language struct {
	Name         string `json:"name"`
	VersionIndex string `json:"version_index"`
}

// Languages lists the supported languages sorted by name.
func Languages() []Language {
	out := make([]Language, 0, len(versions))
	for name, v := range versions {
		out = append(out, Language{Name: name, VersionIndex: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type Request struct {
	Code     string
	Language string
}

// Result carries the upstream output and error fields unchanged.
type Result struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

type Config struct {
	URL          string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type executeBody struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Script       string `json:"script"`
	Language     string `json:"language"`
	VersionIndex string `json:"versionIndex"`
}

type executeReply struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Execute runs req.Code remotely. Unsupported languages fail before any
// network call with an error wrapping ErrUnsupportedLanguage.
func (c *Client) Execute(ctx context.Context, req Request) (*Result, error) {
	version, ok := VersionIndex(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	payload, err := json.Marshal(executeBody{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Script:       req.Code,
		Language:     req.Language,
		VersionIndex: version,
	})
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call compiler: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read compiler response: %w", err)
	}

	var reply executeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode compiler response (status %d): %w", resp.StatusCode, err)
	}
	return &Result{Output: reply.Output, Error: reply.Error}, nil
}
