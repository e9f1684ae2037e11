package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrOracleUnavailable is returned once every attempt against the
	// model has failed for transport-level reasons.
	ErrOracleUnavailable = errors.New("analysis oracle unavailable")
	// ErrOracleTransient marks failures worth retrying: rate limits,
	// upstream 5xx responses and timeouts.
	ErrOracleTransient = errors.New("transient oracle failure")
)

// Oracle is the completion backend. Complete sends one system/user
// prompt pair and returns the raw response text.
type Oracle interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Engine struct {
	oracle      Oracle
	timeout     time.Duration
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *zap.Logger
}

func NewEngine(oracle Oracle, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Engine{
		oracle:      oracle,
		timeout:     timeout,
		maxAttempts: 3,
		backoff:     defaultBackoff,
		logger:      logger,
	}
}

// 1s, 2s, 4s, ...
func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// Analyze runs the full pipeline: prompt, model call with retries, and
// strict validation. Transient transport failures are retried; a
// malformed response is not, because the model already answered.
func (e *Engine) Analyze(ctx context.Context, title, caseText string, disputeType DisputeType) (Artifact, error) {
	user := buildUserPrompt(title, caseText, disputeType)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(e.backoff(attempt - 1)):
			case <-ctx.Done():
				return Artifact{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		text, err := e.oracle.Complete(attemptCtx, systemPrompt, user)
		cancel()
		if err != nil {
			lastErr = err
			if isTransient(err) && ctx.Err() == nil {
				e.logger.Warn("oracle attempt failed",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", e.maxAttempts),
					zap.Error(err),
				)
				continue
			}
			return Artifact{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}

		artifact, err := ParseArtifact(text)
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				// The raw payload goes to the log for operators; callers
				// only ever see the reason.
				e.logger.Error("oracle response failed validation",
					zap.String("reason", parseErr.Reason),
					zap.String("raw_response", parseErr.Raw),
				)
			}
			return Artifact{}, err
		}

		e.logger.Info("analysis completed",
			zap.String("dispute_type", string(disputeType)),
			zap.Int("confidence_score", artifact.ConfidenceScore),
			zap.Int("attempts", attempt),
		)
		return artifact, nil
	}

	return Artifact{}, fmt.Errorf("%w after %d attempts: %v", ErrOracleUnavailable, e.maxAttempts, lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, ErrOracleTransient) || errors.Is(err, context.DeadlineExceeded)
}
