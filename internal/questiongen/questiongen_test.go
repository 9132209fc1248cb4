package questiongen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionServer(t *testing.T, status int, content string, inspect func(chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func newTestClient(url string) *Client {
	return NewClient(Config{URL: url, APIKey: "key", Model: "test-model"})
}

func TestCodingQuestion(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    CodingQuestion
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"title":"Two Sum","description":"Find two numbers.","constraints":"n <= 10^4"}`,
			want:    CodingQuestion{Title: "Two Sum", Description: "Find two numbers.", Constraints: "n <= 10^4"},
		},
		{
			name:    "fenced json",
			content: "```json\n{\"title\":\"Reverse\",\"description\":\"Reverse a list.\",\"constraints\":\"\"}\n```",
			want:    CodingQuestion{Title: "Reverse", Description: "Reverse a list."},
		},
		{name: "not json", content: "Here is a question", wantErr: true},
		{name: "missing title", content: `{"description":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, http.StatusOK, tt.content, func(req chatRequest) {
				if req.Model != "test-model" {
					t.Errorf("model = %q", req.Model)
				}
				if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
					t.Errorf("response_format = %+v", req.ResponseFormat)
				}
				if !strings.Contains(req.Messages[1].Content, "Difficulty: medium") {
					t.Errorf("user prompt = %q", req.Messages[1].Content)
				}
			})
			defer srv.Close()

			got, err := newTestClient(srv.URL).CodingQuestion(context.Background(), "medium", "algorithms")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CodingQuestion: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestVivaQuestion_IncludesCode(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "  Why is your loop O(n)?  \n", func(req chatRequest) {
		if req.ResponseFormat != nil {
			t.Errorf("viva request should not force JSON")
		}
		if !strings.Contains(req.Messages[1].Content, "def two_sum") {
			t.Errorf("user prompt missing code: %q", req.Messages[1].Content)
		}
	})
	defer srv.Close()

	q, err := newTestClient(srv.URL).VivaQuestion(context.Background(), "computer science", "def two_sum(): pass")
	if err != nil {
		t.Fatalf("VivaQuestion: %v", err)
	}
	if q != "Why is your loop O(n)?" {
		t.Errorf("question = %q", q)
	}
}

func TestComplete_Failures(t *testing.T) {
	t.Run("upstream error status", func(t *testing.T) {
		srv := completionServer(t, http.StatusTooManyRequests, "", nil)
		defer srv.Close()

		_, err := newTestClient(srv.URL).VivaQuestion(context.Background(), "cs", "x")
		if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("error = %v, want upstream message", err)
		}
	})

	t.Run("empty completion", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, "   ", nil)
		defer srv.Close()

		_, err := newTestClient(srv.URL).VivaQuestion(context.Background(), "cs", "x")
		if !errors.Is(err, ErrEmptyCompletion) {
			t.Fatalf("error = %v, want ErrEmptyCompletion", err)
		}
	})
}
