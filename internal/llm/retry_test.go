package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2,
	}
}

var okResponse = MockResponse{Content: json.RawMessage(`{"ok":true}`)}

func TestRetry(t *testing.T) {
	down := MockResponse{Err: unavailable(errors.New("down"))}
	bad := MockResponse{Err: invalid(json.RawMessage(`bad`), "bad")}

	tests := []struct {
		name      string
		script    []MockResponse
		wantErr   bool
		wantCalls int
	}{
		{"first attempt succeeds", []MockResponse{okResponse}, false, 1},
		{"transient then success", []MockResponse{down, okResponse}, false, 2},
		{"all attempts fail", []MockResponse{down, down, down, okResponse}, true, 3},
		{"truncation is not retried", []MockResponse{{Err: &ProviderError{Reason: ReasonTruncated}}, okResponse}, true, 1},
		{"invalid response retried once", []MockResponse{bad, bad, okResponse}, true, 2},
		{"invalid then success", []MockResponse{bad, okResponse}, false, 2},
		{"rate limit honours retry after", []MockResponse{{Err: &ProviderError{Reason: ReasonRateLimited, RetryAfter: time.Millisecond}}, okResponse}, false, 2},
		{"plain network error is retried", []MockResponse{{Err: errors.New("connection reset")}, okResponse}, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockProvider(tt.script...)
			_, err := WithRetry(mock, retryConfig()).Generate(context.Background(), Request{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if mock.CallCount() != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", mock.CallCount(), tt.wantCalls)
			}
		})
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: context.Canceled}, okResponse)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(mock, retryConfig()).Generate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", mock.CallCount())
	}
}

func TestRetry_BackoffCapped(t *testing.T) {
	r := &retryProvider{cfg: RetryConfig{InitialWait: time.Second, MaxWait: 2 * time.Second, Multiplier: 10}}
	for attempt := range 4 {
		if d := r.wait(attempt, errors.New("x")); d > 2400*time.Millisecond {
			t.Fatalf("attempt %d waits %s, above cap plus jitter", attempt, d)
		}
	}
}

func TestRetry_ModelIDDelegates(t *testing.T) {
	if id := WithRetry(NewMockProvider(), retryConfig()).ModelID(); id != "mock" {
		t.Fatalf("expected 'mock', got %q", id)
	}
}
