package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/learngraph/internal/apperr"
	"github.com/abhisek/learngraph/internal/metrics"
)

// BreakerConfig configures the circuit breaker around the generator.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Config configures the content service.
type Config struct {
	// Timeout bounds each generation attempt.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// Retries is the number of automatic retries after a failed attempt.
	Retries      int           `yaml:"retries" validate:"gte=0,lte=3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	Breaker      BreakerConfig `yaml:"breaker"`
	LLM          LLMConfig     `yaml:"llm"`
}

// DefaultConfig returns content defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      20 * time.Second,
		Retries:      1,
		RetryBackoff: 250 * time.Millisecond,
		Breaker: BreakerConfig{
			MaxRequests:      2,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      5,
		},
		LLM: DefaultLLMConfig(),
	}
}

// Service fetches payloads for the curator and quiz stages.
type Service struct {
	gen     Generator
	cache   Cache
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewService wires a generator with its cache. logger and m may be nil.
func NewService(gen Generator, cache Cache, cfg Config, logger *zap.Logger, m *metrics.Collector) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	s := &Service{gen: gen, cache: cache, cfg: cfg, logger: logger, metrics: m}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "content-generator",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return s
}

// Fetch returns a payload for in. On generator failure it falls back to the
// most recently cached payload for the node and kind, marking it with
// Source "cache". With nothing cached it returns ErrContentUnavailable.
// Concurrent fetches for the same node, kind and difficulty share one
// generator call.
func (s *Service) Fetch(ctx context.Context, in Input) (*Payload, error) {
	key := fmt.Sprintf("%s/%s/%s", in.NodeID, in.Kind, in.Difficulty)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.generate(ctx, in)
	})
	if err == nil {
		s.metrics.ContentServed(string(in.Kind), "generated")
		return v.(*Payload).clone(), nil
	}

	cached, cerr := s.cache.Get(ctx, in.NodeID, in.Kind)
	if cerr != nil {
		s.logger.Error("content cache read failed", zap.String("node_id", in.NodeID), zap.Error(cerr))
	}
	if cached != nil {
		s.logger.Warn("serving cached content after generation failure",
			zap.String("node_id", in.NodeID), zap.String("kind", string(in.Kind)), zap.Error(err))
		s.metrics.ContentServed(string(in.Kind), "cache")
		cached.Source = "cache"
		return cached, nil
	}
	s.metrics.ContentServed(string(in.Kind), "failed")
	return nil, apperr.WithCause(ErrContentUnavailable, err, "%s for %q", in.Kind, in.NodeID)
}

func (s *Service) generate(ctx context.Context, in Input) (*Payload, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
		}
		p, err := s.attempt(ctx, in)
		if err == nil {
			if perr := s.cache.Put(ctx, p); perr != nil {
				s.logger.Warn("content cache write failed", zap.String("node_id", in.NodeID), zap.Error(perr))
			}
			return p, nil
		}
		lastErr = err
		s.logger.Debug("content generation attempt failed",
			zap.String("node_id", in.NodeID), zap.Int("attempt", attempt+1), zap.Error(err))
		if ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
	}
	return nil, lastErr
}

func (s *Service) attempt(ctx context.Context, in Input) (*Payload, error) {
	v, err := s.breaker.Execute(func() (interface{}, error) {
		actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		type result struct {
			p   *Payload
			err error
		}
		done := make(chan result, 1)
		go func() {
			p, err := s.gen.Generate(actx, in)
			done <- result{p, err}
		}()
		var p *Payload
		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			p = r.p
		case <-actx.Done():
			return nil, fmt.Errorf("generation timed out after %s: %w", s.cfg.Timeout, actx.Err())
		}
		if p == nil {
			return nil, apperr.Wrap(ErrInvalidPayload, "generator returned nothing for %q", in.NodeID)
		}
		p.NodeID, p.Kind = in.NodeID, in.Kind
		if p.Difficulty == "" {
			p.Difficulty = in.Difficulty
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.Source = "generated"
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Payload), nil
}
