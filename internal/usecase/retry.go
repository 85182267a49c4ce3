package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/logging"
	"github.com/example/retina-screen/internal/metrics"
)

// redisCall names a navigation store command. A command that is not idempotent is sent once:
// after a timeout the server may already have applied it, and a replay would see its effect.
type redisCall struct {
	operation  string
	idempotent bool
}

var (
	navigationSet    = redisCall{operation: "navigation.set", idempotent: true}
	navigationGetDel = redisCall{operation: "navigation.getdel"}
)

// withRedisRetry runs fn with exponential backoff on transient errors and reports how many
// attempts it made. Every failure comes back as *logging.OperationError.
func (uc *ScreeningUseCase) withRedisRetry(ctx context.Context, sessionID string, call redisCall, fn func() error) (int, error) {
	attempts := uc.retryAttempts
	if attempts < 1 || !call.idempotent {
		attempts = 1
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, call.operation, sessionID)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.NavigationRetriesTotal.WithLabelValues(call.operation).Inc()
			select {
			case <-ctx.Done():
				return attempt - 1, logging.NewOperationError(call.operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		if err = fn(); err == nil {
			if attempt > 1 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return attempt, nil
		}

		if !isTransientError(err) || attempt == attempts {
			opLogger.Error("redis operation failed",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Bool("idempotent", call.idempotent),
			)
			return attempt, logging.NewOperationError(call.operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt))
	}
	return attempts, logging.NewOperationError(call.operation, sessionID, err)
}

// isTransientError reports whether a redis error is worth another attempt. A miss and a closed
// client are final.
func isTransientError(err error) bool {
	switch {
	case err == nil, errors.Is(err, redis.Nil), errors.Is(err, redis.ErrClosed), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
