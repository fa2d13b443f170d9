package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryingExchangerSucceedsAfterFailure(t *testing.T) {
	attempts := 0
	inner := ExchangerFunc(func(_ context.Context, token string) (Credentials, error) {
		attempts++
		if attempts < 3 {
			return Credentials{}, errors.New("throttled")
		}
		if token != "identity-token" {
			t.Errorf("token = %q, want identity-token", token)
		}
		return Credentials{AccessKeyID: "AKID"}, nil
	})

	ex := NewRetryingExchanger(inner, 3, time.Second)
	creds, err := ex.Exchange(context.Background(), "identity-token")
	if err != nil {
		t.Fatalf("Exchange error = %v", err)
	}
	if creds.AccessKeyID != "AKID" {
		t.Errorf("creds = %+v, want the exchanged credentials", creds)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryingExchangerGivesUp(t *testing.T) {
	attempts := 0
	inner := ExchangerFunc(func(_ context.Context, _ string) (Credentials, error) {
		attempts++
		return Credentials{}, errors.New("upstream down")
	})

	ex := NewRetryingExchanger(inner, 2, time.Second)
	_, err := ex.Exchange(context.Background(), "tok")
	if err == nil {
		t.Fatal("Exchange succeeded despite persistent failures")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want exactly 2", attempts)
	}
}

func TestRetryingExchangerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	inner := ExchangerFunc(func(_ context.Context, _ string) (Credentials, error) {
		attempts++
		cancel()
		return Credentials{}, errors.New("transient")
	})

	ex := NewRetryingExchanger(inner, 5, time.Second)
	if _, err := ex.Exchange(ctx, "tok"); err == nil {
		t.Fatal("Exchange succeeded after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want no retries after cancellation", attempts)
	}
}

func TestRetryingExchangerAppliesPerAttemptTimeout(t *testing.T) {
	inner := ExchangerFunc(func(ctx context.Context, _ string) (Credentials, error) {
		<-ctx.Done()
		return Credentials{}, ctx.Err()
	})

	ex := NewRetryingExchanger(inner, 1, 50*time.Millisecond)
	start := time.Now()
	_, err := ex.Exchange(context.Background(), "tok")
	if err == nil {
		t.Fatal("Exchange succeeded despite a hung inner exchanger")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("attempt not bounded by timeout, took %v", elapsed)
	}
}
