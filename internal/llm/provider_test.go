package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestMockProvider_ReplaysScript(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"a":1}`), Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		MockResponse{Content: json.RawMessage(`{"b":2}`)},
	)

	first, err := mock.Generate(context.Background(), Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "first"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first.Content) != `{"a":1}` || first.Usage.InputTokens != 10 || first.StopReason != "end" {
		t.Fatalf("unexpected first response: %+v", first)
	}
	second, _ := mock.Generate(context.Background(), Request{})
	if string(second.Content) != `{"b":2}` {
		t.Fatalf("unexpected second response: %s", second.Content)
	}
	if mock.CallCount() != 2 || mock.Calls[0].System != "sys" {
		t.Fatalf("calls not recorded: %+v", mock.Calls)
	}

	_, err = mock.Generate(context.Background(), Request{})
	if reason, _ := ReasonOf(err); reason != ReasonUnavailable {
		t.Fatalf("exhausted script: got %v", err)
	}
}

func TestPurposeContext(t *testing.T) {
	ctx := context.Background()
	if p := PurposeFrom(ctx); p != "unknown" {
		t.Fatalf("expected 'unknown', got %q", p)
	}
	if p := PurposeFrom(WithPurpose(ctx, "quiz")); p != "quiz" {
		t.Fatalf("expected 'quiz', got %q", p)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: ProviderConfig{APIKey: "sk"}}, false},
		{"openrouter without key", Config{Provider: "openrouter"}, true},
		{"gemini with key", Config{Provider: "gemini", Gemini: ProviderConfig{APIKey: "k"}}, false},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"static needs no key", Config{Provider: "static"}, false},
		{"unknown provider", Config{Provider: "unknown"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func clearVendorEnv(t *testing.T) {
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY", EnvPrefix + "LLM_PROVIDER"} {
		t.Setenv(k, "")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("explicit provider", func(t *testing.T) {
		clearVendorEnv(t)
		t.Setenv(EnvPrefix+"LLM_PROVIDER", "openai")
		t.Setenv(EnvPrefix+"OPENAI_API_KEY", "sk-test")
		t.Setenv(EnvPrefix+"OPENAI_MODEL", "gpt-4.1-mini")
		cfg := ConfigFromEnv()
		if cfg.Provider != "openai" || cfg.OpenAI.APIKey != "sk-test" || cfg.OpenAI.Model != "gpt-4.1-mini" {
			t.Fatalf("cfg = %+v", cfg)
		}
	})
	t.Run("discovers vendor key", func(t *testing.T) {
		clearVendorEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
		cfg := ConfigFromEnv()
		if cfg.Provider != "anthropic" || cfg.Anthropic.APIKey != "sk-ant" {
			t.Fatalf("cfg = %+v", cfg)
		}
	})
	t.Run("configured provider wins", func(t *testing.T) {
		clearVendorEnv(t)
		t.Setenv("GEMINI_API_KEY", "g")
		cfg := DefaultConfig()
		cfg.Provider = "mock"
		cfg.ApplyEnv()
		if cfg.Provider != "mock" {
			t.Fatalf("provider = %q", cfg.Provider)
		}
	})
	t.Run("falls back to static", func(t *testing.T) {
		clearVendorEnv(t)
		if cfg := ConfigFromEnv(); cfg.Provider != "static" {
			t.Fatalf("provider = %q", cfg.Provider)
		}
	})
}

type recorderStub struct {
	mu     sync.Mutex
	events []RequestEvent
	err    error
}

func (r *recorderStub) AppendLLMRequest(_ context.Context, ev RequestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestWithRecording(t *testing.T) {
	rec := &recorderStub{}
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"ok":true}`), Usage: Usage{InputTokens: 3, OutputTokens: 4}},
		MockResponse{Err: errors.New("boom")},
	)
	p := WithRecording(mock, "mock", rec, zap.NewNop())
	ctx := WithPurpose(context.Background(), "lesson")

	if _, err := p.Generate(ctx, Request{System: "tutor", Messages: []Message{{Role: RoleUser, Content: "teach"}}, Schema: quizSchema()}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Generate(ctx, Request{}); err == nil {
		t.Fatal("expected error")
	}

	if len(rec.events) != 2 {
		t.Fatalf("events = %d, want 2", len(rec.events))
	}
	ok, failed := rec.events[0], rec.events[1]
	if !ok.Success || ok.Purpose != "lesson" || ok.InputTokens != 3 || ok.ResponseBody != `{"ok":true}` {
		t.Errorf("success event = %+v", ok)
	}
	if !strings.Contains(ok.RequestBody, "[system]\ntutor") || !strings.Contains(ok.RequestBody, "[schema: test-object]") {
		t.Errorf("request body = %q", ok.RequestBody)
	}
	if failed.Success || failed.ErrorMessage != "boom" {
		t.Errorf("failure event = %+v", failed)
	}
}

func TestWithRecording_RecorderFailureIsIgnored(t *testing.T) {
	rec := &recorderStub{err: errors.New("disk full")}
	p := WithRecording(NewMockProvider(okResponse), "mock", rec, nil)
	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("recorder failure leaked: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Provider: "static"}, nil, nil)
	if err != nil || p != nil {
		t.Fatalf("static: p = %v, err = %v", p, err)
	}

	cfg := DefaultConfig()
	cfg.Provider = "mock"
	p, err = NewProvider(context.Background(), cfg, &recorderStub{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != "mock" {
		t.Fatalf("model = %q", p.ModelID())
	}

	if _, err := NewProvider(context.Background(), Config{Provider: "anthropic"}, nil, nil); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewProvider(context.Background(), Config{Provider: "bogus"}, nil, nil); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestLookupCost(t *testing.T) {
	c, ok := LookupCost("gpt-4o-mini")
	if !ok {
		t.Fatal("gpt-4o-mini should be priced")
	}
	if got := c.Cost(1_000_000, 1_000_000); got < 0.749 || got > 0.751 {
		t.Fatalf("cost = %v, want 0.75", got)
	}
	if _, ok := LookupCost("no-such-model"); ok {
		t.Fatal("unknown model priced")
	}
}
