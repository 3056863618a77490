package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy describe un backoff exponencial determinista (sin jitter).
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay devuelve el retardo tras `attempts` intentos fallidos previos: Base * Multiplier^attempts, acotado por Max.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 64 {
		attempts = 64
	}
	b := p.exponential()
	d := b.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p BackoffPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	} else {
		b.Multiplier = 2
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	} else {
		b.MaxInterval = p.Base
	}
	b.Reset()
	return b
}

// Retry ejecuta fn hasta `attempts` veces mientras retryable(err) sea cierto.
// Los errores no reintentables se devuelven de inmediato.
func Retry[T any](ctx context.Context, attempts int, policy BackoffPolicy, retryable func(error) bool, fn func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(policy.exponential()),
		backoff.WithMaxTries(uint(attempts)),
	)
}
