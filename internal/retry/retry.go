// Package retry wraps github.com/cenkalti/backoff/v4 with the two retry
// shapes the module needs: a short fixed-attempt schedule for the AI
// Adapter's completion calls, and an open-ended jittered backpressure
// schedule for the Sync Coordinator's push/pull loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/boardroomjournal/core/domain"
)

// CompletionSchedule returns the AI Adapter's bounded backoff: an
// initial call plus three retries after 1s, 2s, 4s, mirroring the server-mode retry in
// internal/storage/dolt/store.go but bounded to a fixed attempt count
// instead of an elapsed-time ceiling, since a hung provider call must
// give up quickly rather than spin for 30s.
func CompletionSchedule() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, 3)
}

// BackpressureSchedule returns the Sync Coordinator's open-ended,
// jittered backoff: starts at 5s, doubles up to a 5-minute ceiling, and
// never gives up on its own (the caller stops it via ctx cancellation).
func BackpressureSchedule() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Minute
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0
	return bo
}

// Do runs op under bo, stopping early for errors classified as
// permanent so a validation failure never burns through a retry
// budget meant for transient network and provider errors.
func Do(ctx context.Context, bo backoff.BackOff, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// IsPermanent reports whether err represents a failure that will never
// succeed on retry: validation, schema, constraint, conflict, and
// cancellation errors fall outside the set of transient conditions
// (network_unavailable, remote_unavailable, rate_limited) this package
// exists to retry around.
func IsPermanent(err error) bool {
	var ce *domain.CoreError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case domain.KindNetworkUnavailable, domain.KindRemoteUnavailable, domain.KindRateLimited:
		return false
	default:
		return true
	}
}
