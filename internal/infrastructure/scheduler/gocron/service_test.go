package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerService(t *testing.T) {
	t.Run("fires at deadline", func(t *testing.T) {
		svc := NewScheduler()
		svc.Start()
		defer svc.Stop()

		done := make(chan struct{})
		err := svc.ScheduleTransferExpiry("t1", time.Now().Add(2*time.Second), func() {
			close(done)
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			require.Fail(t, "expiry did not fire within expected time")
		}
	})

	t.Run("past deadline fires immediately", func(t *testing.T) {
		svc := NewScheduler()
		svc.Start()
		defer svc.Stop()

		done := make(chan struct{})
		err := svc.ScheduleTransferExpiry("t2", time.Now().Add(-time.Second), func() {
			close(done)
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			require.Fail(t, "expiry did not fire")
		}
	})

	t.Run("cancelled timer never fires", func(t *testing.T) {
		svc := NewScheduler()
		svc.Start()
		defer svc.Stop()

		fired := make(chan struct{})
		err := svc.ScheduleTransferExpiry("t3", time.Now().Add(2*time.Second), func() {
			close(fired)
		})
		require.NoError(t, err)

		svc.CancelTransferExpiry("t3")

		select {
		case <-fired:
			require.Fail(t, "cancelled expiry fired")
		case <-time.After(4 * time.Second):
		}
	})

	t.Run("cancel unknown id is a no-op", func(t *testing.T) {
		svc := NewScheduler()
		svc.Start()
		defer svc.Stop()

		svc.CancelTransferExpiry("never-scheduled")
	})

	t.Run("missing id rejected", func(t *testing.T) {
		svc := NewScheduler()
		err := svc.ScheduleTransferExpiry("", time.Now().Add(time.Second), func() {})
		require.Error(t, err)
	})
}
