package ports

import (
	"time"
)

// SchedulerService owns one cancellable expiry timer per in-flight transfer.
// A timer fires no earlier than its deadline; cancelling a timer that already
// fired or never existed is a no-op.
type SchedulerService interface {
	Start()
	Stop()
	ScheduleTransferExpiry(transferID string, at time.Time, expireFunc func()) error
	CancelTransferExpiry(transferID string)
}
