package auth

import (
	"context"
	"time"

	"concierge/config"
)

const (
	defaultExchangeAttempts = 3
	defaultExchangeTimeout  = 5 * time.Second
	exchangeBackoff         = 500 * time.Millisecond
)

// RetryingExchanger wraps a CredentialExchanger with a per-attempt timeout
// and a small fixed number of retries. Exchange is a setup call on the
// critical path of a turn, so attempts stay bounded rather than retrying
// until the client gives up.
type RetryingExchanger struct {
	inner    CredentialExchanger
	attempts int
	timeout  time.Duration
}

// NewRetryingExchanger wraps inner with retry behavior. attempts <= 0 and
// timeout <= 0 fall back to defaults.
func NewRetryingExchanger(inner CredentialExchanger, attempts int, timeout time.Duration) *RetryingExchanger {
	if attempts <= 0 {
		attempts = defaultExchangeAttempts
	}
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	return &RetryingExchanger{inner: inner, attempts: attempts, timeout: timeout}
}

func (r *RetryingExchanger) Exchange(ctx context.Context, identityToken string) (Credentials, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		creds, err := r.inner.Exchange(attemptCtx, identityToken)
		cancel()
		if err == nil {
			return creds, nil
		}
		lastErr = err
		if config.Debug && config.DebugLog != nil {
			config.DebugLog.Printf("credential exchange attempt %d/%d failed: %v", attempt, r.attempts, err)
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < r.attempts {
			select {
			case <-time.After(exchangeBackoff):
			case <-ctx.Done():
				return Credentials{}, wrapExchangeErr(attempt, ctx.Err())
			}
		}
	}
	return Credentials{}, wrapExchangeErr(r.attempts, lastErr)
}
