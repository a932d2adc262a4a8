package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = time.Second

	overloadedExplanation = "The AI service is currently overloaded. Please try again in a few moments."
	malformedExplanation  = "Error: Failed to process the AI response. Please try again."
)

// Normalize extracts the canonical JSON payload from raw completion text.
// The model is asked for a bare JSON object but in practice wraps it in
// code fences or prose, so the extraction is deliberately tolerant: fences
// are stripped, the slice between the first '{' and the last '}' is taken,
// and stray backticks inside the slice are removed before parsing.
func Normalize(raw string) (Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return Result{}, newError(ErrorClassMalformed, 0, fmt.Errorf("no JSON object found in response"))
	}

	payload := strings.ReplaceAll(cleaned[start:end+1], "`", "")

	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return Result{}, newError(ErrorClassMalformed, 0, err)
	}

	return result.WithDefaults(), nil
}

// GeneratorConfig configures the response pipeline.
type GeneratorConfig struct {
	Completer   Completer
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *zap.Logger
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Generator drives the completion gateway and normalizes its output. Its
// Generate method never fails past its own boundary: callers always get a
// well-formed Result, degraded when the upstream or the parse did not
// cooperate.
type Generator struct {
	completer   Completer
	maxAttempts int
	retryBase   time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGenerator constructs a Generator with sane defaults.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Completer == nil {
		return nil, errors.New("ai: completer is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Generator{
		completer:   cfg.Completer,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		logger:      logger,
		sleep:       sleep,
	}, nil
}

// Generate runs prompt → completion → normalization. Overload signals are
// retried with exponential backoff (base delay doubling per attempt);
// malformed responses and other upstream failures are not, since a retry
// cannot fix them. When attempts are exhausted or a non-transient failure
// occurs, the result is degraded: an apologetic explanation distinguishing
// the overloaded case from the malformed one, with empty files, build steps
// and run commands.
func (g *Generator) Generate(ctx context.Context, prompt string) Result {
	backoff := g.retryBase
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		raw, err := g.completer.Complete(ctx, prompt)
		if err == nil {
			result, parseErr := Normalize(raw)
			if parseErr == nil {
				return result
			}
			g.logger.Warn("completion text did not normalize", zap.Error(parseErr))
			return degraded(parseErr)
		}

		lastErr = err
		if !IsOverloaded(err) {
			return degraded(err)
		}

		if attempt < g.maxAttempts {
			g.logger.Info("completion gateway overloaded, backing off",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.maxAttempts),
				zap.Duration("backoff", backoff))
			if sleepErr := g.sleep(ctx, backoff); sleepErr != nil {
				return degraded(lastErr)
			}
			backoff *= 2
		}
	}

	return degraded(lastErr)
}

func degraded(err error) Result {
	explanation := malformedExplanation
	if IsOverloaded(err) {
		explanation = overloadedExplanation
	}
	return Result{
		Explanation: explanation,
		Files:       FileList{},
		BuildSteps:  []string{},
		RunCommands: []string{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
