package ai

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/config"
)

const validOutput = `{
  "summary": "Two people on a beach",
  "description": "A sunny afternoon.",
  "tags": ["beach", "summer"],
  "suggested_filename_base": "beach_afternoon",
  "key_people": ["Alice"],
  "key_objects": ["umbrella"],
  "key_actions": ["walking"]
}`

func writeTestPNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	path := filepath.Join(dir, "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func testRequest(t *testing.T) Request {
	return Request{
		MediaType:    "image",
		LocationText: "Location unknown",
		People:       []Person{{Name: "Alice", Count: 2}},
		Metadata:     map[string]any{"Make": "Canon"},
		Images:       []string{writeTestPNG(t, t.TempDir())},
	}
}

// --- prompt ---

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    []string
		notWant []string
	}{
		{
			name: "image with unknown capture time",
			req: Request{
				MediaType:    "image",
				LocationText: "Near 50.08000, 14.42000",
				People:       []Person{{Name: "Zoë", Count: 3, Notes: "a<b"}},
			},
			want: []string{
				"- media_type: image",
				"- capture_datetime: unknown",
				"- location_text: Near 50.08000, 14.42000",
				`"name":"Zoë"`,
				`"notes":"a<b"`,
				"- metadata: {}",
			},
			notWant: []string{videoNote},
		},
		{
			name: "video",
			req: Request{
				MediaType:       "video",
				CaptureDatetime: "2023-07-01T10:00:00",
			},
			want: []string{"- capture_datetime: 2023-07-01T10:00:00", videoNote, "- people: []"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, err := BuildPrompt(tt.req)
			if err != nil {
				t.Fatalf("BuildPrompt() error = %v", err)
			}
			if !strings.HasPrefix(prompt, "You are a media description assistant.") {
				t.Errorf("unexpected prompt start: %q", prompt[:40])
			}
			for _, w := range tt.want {
				if !strings.Contains(prompt, w) {
					t.Errorf("prompt missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(prompt, w) {
					t.Errorf("prompt unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "valid", content: validOutput},
		{name: "fenced", content: "```json\n" + validOutput + "\n```"},
		{name: "not json", content: "I cannot help", wantErr: "invalid JSON"},
		{
			name:    "missing key",
			content: `{"summary":"s","description":"d","tags":[],"suggested_filename_base":"b","key_people":[],"key_objects":[]}`,
			wantErr: "Missing key: key_actions",
		},
		{
			name:    "tags not a list",
			content: `{"summary":"s","description":"d","tags":"a,b","suggested_filename_base":"b","key_people":[],"key_objects":[],"key_actions":[]}`,
			wantErr: "tags must be list",
		},
		{
			name:    "wrong element type",
			content: `{"summary":"s","description":"d","tags":[1],"suggested_filename_base":"b","key_people":[],"key_objects":[],"key_actions":[]}`,
			wantErr: "unexpected field type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := ParseDescription(tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if desc.SuggestedFilenameBase != "beach_afternoon" || len(desc.Tags) != 2 {
					t.Errorf("unexpected description: %+v", desc)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestExtractJSON_BracesInStrings(t *testing.T) {
	content := `Sure! {"summary":"a } b","x":{"y":1}} trailing`
	got := extractJSON(content)
	want := `{"summary":"a } b","x":{"y":1}}`
	if got != want {
		t.Errorf("extractJSON() = %q, want %q", got, want)
	}
}

// --- ollama ---

func newOllamaServer(t *testing.T, replies []string, prompts *[]string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Errorf("expected one message with one image, got %+v", req.Messages)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		n := atomic.AddInt32(calls, 1)
		*prompts = append(*prompts, req.Messages[0].Content)

		reply := replies[len(replies)-1]
		if int(n) <= len(replies) {
			reply = replies[n-1]
		}
		resp := map[string]any{
			"model":             req.Model,
			"message":           map[string]string{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": 10,
			"eval_count":        5,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllama_RetryThenSuccess(t *testing.T) {
	var calls int32
	var prompts []string
	srv := newOllamaServer(t, []string{"not json at all", validOutput}, &prompts, &calls)
	defer srv.Close()

	d := NewOllamaDescriber(config.LLMConfig{BaseURL: srv.URL, Model: "llava", Timeout: 5 * time.Second}, zap.NewNop())
	desc, err := d.Describe(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.Summary != "Two people on a beach" {
		t.Errorf("summary = %q", desc.Summary)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !strings.Contains(prompts[0], `"name":"Alice"`) {
		t.Errorf("first prompt should carry people context")
	}
	if !strings.HasPrefix(prompts[1], "Repair JSON only. Error: invalid JSON") ||
		!strings.Contains(prompts[1], "Original content: not json at all") {
		t.Errorf("unexpected repair prompt %q", prompts[1])
	}
	if u := d.Usage(); u.Requests != 2 || u.InputTokens != 20 || u.OutputTokens != 10 {
		t.Errorf("usage = %+v", u)
	}
}

func TestOllama_RetryExhausted(t *testing.T) {
	var calls int32
	var prompts []string
	srv := newOllamaServer(t, []string{`{"summary":"only"}`}, &prompts, &calls)
	defer srv.Close()

	d := NewOllamaDescriber(config.LLMConfig{BaseURL: srv.URL, Model: "llava"}, nil)
	_, err := d.Describe(context.Background(), testRequest(t))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, MaxAttempts)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "LLM failed to return valid JSON") {
		t.Errorf("unexpected error %q", err.Error())
	}
}

func TestOllama_HTTPErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewOllamaDescriber(config.LLMConfig{BaseURL: srv.URL, Model: "missing"}, nil)
	_, err := d.Describe(context.Background(), testRequest(t))
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDescribe_NoImages(t *testing.T) {
	d := NewOllamaDescriber(config.LLMConfig{BaseURL: "http://127.0.0.1:1", Model: "llava"}, nil)
	req := testRequest(t)
	req.Images = nil
	if _, err := d.Describe(context.Background(), req); err == nil {
		t.Fatal("expected error without images")
	}
}

// --- llama.cpp ---

func TestLlamaCpp_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req llamaCppRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		parts := req.Messages[0].Content
		if len(parts) != 2 || parts[0].Type != "text" || parts[1].ImageURL == nil {
			t.Errorf("unexpected content parts %+v", parts)
		} else if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("unexpected image url prefix %q", parts[1].ImageURL.URL[:30])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": validOutput}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	d, err := NewLlamaCppDescriber(config.LLMConfig{BaseURL: srv.URL + "/", Model: "llava"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := d.Describe(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if desc.KeyPeople[0] != "Alice" {
		t.Errorf("key people = %v", desc.KeyPeople)
	}
}

func TestNewLlamaCppDescriber_InvalidURL(t *testing.T) {
	tests := []string{"ftp://host", "http://", "://bad"}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			if _, err := NewLlamaCppDescriber(config.LLMConfig{BaseURL: u}, nil); err == nil {
				t.Errorf("expected error for %q", u)
			}
		})
	}
}

// --- LM Studio ---

func TestLMStudio_Describe(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer lmstudio" {
			t.Errorf("authorization = %q", got)
		}
		content := "```\n" + validOutput + "\n```"
		if atomic.AddInt32(&calls, 1) == 1 {
			content = `{"tags": "nope"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "qwen2-vl",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6},
		})
	}))
	defer srv.Close()

	d, err := NewLMStudioDescriber(config.LLMConfig{BaseURL: srv.URL + "/v1", Model: "qwen2-vl", Temperature: 0.2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := d.Describe(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if desc.Description != "A sunny afternoon." {
		t.Errorf("description = %q", desc.Description)
	}
}

// --- factory ---

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LLMConfig
		wantName string
		wantErr  bool
	}{
		{name: "ollama", cfg: config.LLMConfig{Backend: "ollama", Model: "llava"}, wantName: BackendOllama},
		{name: "local", cfg: config.LLMConfig{Backend: "local", Model: "llava"}, wantName: BackendLocal},
		{name: "lmstudio", cfg: config.LLMConfig{Backend: "lmstudio", Model: "m", BaseURL: "http://localhost:1234/v1"}, wantName: BackendLMStudio},
		{name: "lmstudio without url", cfg: config.LLMConfig{Backend: "lmstudio", Model: "m"}, wantErr: true},
		{name: "gemini without key", cfg: config.LLMConfig{Backend: "gemini"}, wantErr: true},
		{name: "unknown", cfg: config.LLMConfig{Backend: "claude"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if d.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", d.Name(), tt.wantName)
			}
		})
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		path    string
		status  int
		wantErr bool
	}{
		{"ollama ok", BackendOllama, "/api/tags", http.StatusOK, false},
		{"ollama down", BackendOllama, "/api/tags", http.StatusBadGateway, true},
		{"llama.cpp ok", BackendLocal, "/health", http.StatusOK, false},
		{"llama.cpp loading", BackendLocal, "/health", http.StatusServiceUnavailable, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tc.path {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			d, err := New(context.Background(), config.LLMConfig{Backend: tc.backend, Model: "m", BaseURL: srv.URL, Timeout: time.Second}, nil)
			if err != nil {
				t.Fatal(err)
			}
			p, ok := d.(Pinger)
			if !ok {
				t.Fatalf("%s describer does not implement Pinger", tc.backend)
			}
			if err := p.Ping(context.Background()); (err != nil) != tc.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
