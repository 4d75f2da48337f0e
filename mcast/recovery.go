package mcast

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/beacon/internal/telemetry"
)

const (
	recoveryIdle int32 = iota
	recoveryRunning
)

// recovery restarts the transport after repeated socket errors. At most one
// recovery runs at a time, requests made while it is running are dropped.
type recovery struct {
	enabled bool
	sleep   time.Duration
	logger  log.Logger
	state   atomic.Int32

	running func() Direction
	restart func(dirs Direction) error

	// stopped returns a channel closed once the owner stops the transport.
	stopped func() <-chan struct{}
}

// trigger starts a recovery in the background unless one is already running.
// It returns false if the request was dropped.
func (r *recovery) trigger() bool {
	if !r.enabled {
		level.Error(r.logger).Log("msg", "too many consecutive socket errors, recovery is disabled")
		telemetry.Recoveries.WithLabelValues("disabled").Inc()

		return false
	}

	if !r.state.CompareAndSwap(recoveryIdle, recoveryRunning) {
		return false
	}

	go func() {
		defer r.state.Store(recoveryIdle)
		r.run()
	}()

	return true
}

func (r *recovery) inProgress() bool {
	return r.state.Load() == recoveryRunning
}

func (r *recovery) run() {
	dirs := r.running()
	if dirs == 0 {
		return
	}

	stop := r.stopped()

	level.Warn(r.logger).Log("msg", "restarting transport after socket errors", "directions", dirs)

	b := backoff.NewConstantBackOff(r.sleep)

	for attempt := 1; ; attempt++ {
		err := r.restart(dirs)

		switch {
		case err == nil:
			level.Info(r.logger).Log("msg", "transport recovered", "attempt", attempt)
			telemetry.Recoveries.WithLabelValues("success").Inc()

			return
		case errors.Is(err, errStoppedByOwner):
			r.abort()
			return
		}

		level.Error(r.logger).Log("msg", "failed to restart transport", "attempt", attempt, "err", err)
		telemetry.Recoveries.WithLabelValues("failure").Inc()

		if !r.wait(stop, b.NextBackOff()) {
			r.abort()
			return
		}
	}
}

// wait pauses before the next attempt. It returns false if the transport was
// stopped in the meantime.
func (r *recovery) wait(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func (r *recovery) abort() {
	level.Info(r.logger).Log("msg", "recovery aborted, transport was stopped")
	telemetry.Recoveries.WithLabelValues("aborted").Inc()
}
