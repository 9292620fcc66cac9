package content

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhisek/learngraph/internal/llm"
)

func quizPayload(nodeID string) *Payload {
	return &Payload{
		NodeID: nodeID,
		Kind:   KindQuiz,
		Title:  "Quiz " + nodeID,
		Items:  []Item{{ID: "q1", Prompt: "2+2?", Answer: "4", AnswerType: AnswerInteger}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	cfg.Breaker.MinRequests = 100
	return cfg
}

// scriptedGenerator returns the scripted results in order, then repeats the
// last one.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (g *scriptedGenerator) Generate(_ context.Context, in Input) (*Payload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(g.calls, len(g.results)-1)
	g.calls++
	if err := g.results[i]; err != nil {
		return nil, err
	}
	return quizPayload(in.NodeID), nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var errGen = errors.New("generator down")

func TestFetch_SuccessIsCached(t *testing.T) {
	cache := NewMemoryCache()
	gen := &scriptedGenerator{results: []error{nil}}
	svc := NewService(gen, cache, testConfig(), nil, nil)

	p, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz, Difficulty: Beginner})
	if err != nil {
		t.Fatal(err)
	}
	if p.Source != "generated" || p.Difficulty != Beginner {
		t.Errorf("payload = %+v", p)
	}
	cached, _ := cache.Get(context.Background(), "n1", KindQuiz)
	if cached == nil {
		t.Fatal("payload was not cached")
	}
}

func TestFetch_RetriesOnce(t *testing.T) {
	gen := &scriptedGenerator{results: []error{errGen, nil}}
	svc := NewService(gen, nil, testConfig(), nil, nil)

	if _, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz}); err != nil {
		t.Fatal(err)
	}
	if gen.Calls() != 2 {
		t.Errorf("calls = %d, want 2", gen.Calls())
	}
}

func TestFetch_FallsBackToCache(t *testing.T) {
	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), quizPayload("n1"))
	gen := &scriptedGenerator{results: []error{errGen}}
	svc := NewService(gen, cache, testConfig(), nil, nil)

	p, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz})
	if err != nil {
		t.Fatal(err)
	}
	if p.Source != "cache" {
		t.Errorf("Source = %q, want cache", p.Source)
	}
	if gen.Calls() != 2 {
		t.Errorf("calls = %d, want 2 (one retry before fallback)", gen.Calls())
	}
}

func TestFetch_UnavailableWithoutCache(t *testing.T) {
	gen := &scriptedGenerator{results: []error{errGen}}
	svc := NewService(gen, nil, testConfig(), nil, nil)

	_, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindLesson})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("err = %v, want ErrContentUnavailable", err)
	}
	if !errors.Is(err, errGen) {
		t.Error("cause should be preserved")
	}
}

func TestFetch_InvalidPayloadCountsAsFailure(t *testing.T) {
	gen := GeneratorFunc(func(_ context.Context, in Input) (*Payload, error) {
		return &Payload{Title: "empty quiz"}, nil
	})
	svc := NewService(gen, nil, testConfig(), nil, nil)
	_, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz})
	if !errors.Is(err, ErrContentUnavailable) || !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("err = %v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, in Input) (*Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	svc := NewService(gen, nil, cfg, nil, nil)

	start := time.Now()
	_, err := svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch took %s, timeout not enforced", elapsed)
	}
}

func TestFetch_CoalescesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gen := GeneratorFunc(func(_ context.Context, in Input) (*Payload, error) {
		calls.Add(1)
		<-release
		return quizPayload(in.NodeID), nil
	})
	cfg := testConfig()
	cfg.Timeout = 5 * time.Second
	svc := NewService(gen, nil, cfg, nil, nil)

	var wg sync.WaitGroup
	results := make([]*Payload, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
	results[0].Items[0].Prompt = "mutated"
	for _, r := range results[1:] {
		if r == nil || r.Items[0].Prompt == "mutated" {
			t.Fatal("callers share a payload")
		}
	}
}

func TestFetch_BreakerOpens(t *testing.T) {
	gen := &scriptedGenerator{results: []error{errGen}}
	cfg := testConfig()
	cfg.Retries = 0
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.FailureThreshold = 0.5
	cfg.Breaker.Timeout = time.Hour
	svc := NewService(gen, nil, cfg, nil, nil)

	for range 5 {
		_, _ = svc.Fetch(context.Background(), Input{NodeID: "n1", Kind: KindQuiz})
	}
	if gen.Calls() != 2 {
		t.Errorf("generator called %d times, want 2 before the breaker opened", gen.Calls())
	}
}

func TestStaticGenerator(t *testing.T) {
	gen := NewStaticGenerator()
	attrs := map[string]any{
		"body": "Fractions name parts of a whole.",
		"items": []any{
			map[string]any{"prompt": "Half of 8?", "answer": "4", "answer_type": "integer"},
			map[string]any{"id": "mc", "prompt": "Pick 1/2", "answer": "1/2", "choices": []any{"1/3", "1/2"}},
		},
	}

	quiz, err := gen.Generate(context.Background(), Input{NodeID: "frac", Kind: KindQuiz, Title: "Fractions", Attributes: attrs})
	if err != nil {
		t.Fatal(err)
	}
	if len(quiz.Items) != 2 || quiz.Items[0].ID != "q1" || quiz.Items[1].Choices[1] != "1/2" {
		t.Errorf("items = %+v", quiz.Items)
	}
	if quiz.Items[1].AnswerType != AnswerText {
		t.Errorf("default answer type = %q", quiz.Items[1].AnswerType)
	}

	lesson, err := gen.Generate(context.Background(), Input{NodeID: "frac", Kind: KindLesson, Title: "Fractions", Attributes: attrs})
	if err != nil || lesson.Body == "" {
		t.Errorf("lesson = %+v, err = %v", lesson, err)
	}

	if _, err := gen.Generate(context.Background(), Input{NodeID: "bare", Kind: KindQuiz}); err == nil {
		t.Error("expected error for node without items")
	}
}

func TestLLMGenerator(t *testing.T) {
	out := map[string]any{
		"title": "Adding fractions",
		"items": []any{
			map[string]any{"prompt": "1/4 + 1/4?", "choices": []any{}, "answer": "1/2", "answer_type": "fraction", "explanation": "Two quarters."},
		},
	}
	raw, _ := json.Marshal(out)
	mock := llm.NewMockProvider(llm.MockResponse{Content: raw})
	gen := NewLLMGenerator(mock, DefaultLLMConfig())

	p, err := gen.Generate(context.Background(), Input{NodeID: "frac-add", Kind: KindQuiz, Title: "Fraction addition", Difficulty: Intermediate})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Adding fractions" || len(p.Items) != 1 || p.Items[0].ID != "q1" {
		t.Errorf("payload = %+v", p)
	}
	if mock.CallCount() != 1 || mock.Calls[0].Schema != QuizSchema {
		t.Error("quiz schema not requested")
	}
}
