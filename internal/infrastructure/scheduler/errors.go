package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning rejects period-close submissions before Start or after Stop
	ErrSchedulerNotRunning = errors.New("period-close scheduler is not running")
	// ErrJobQueueFull rejects a submission when every queue slot holds a pending period close
	ErrJobQueueFull    = errors.New("period-close queue is full")
	ErrInvalidSchedule = errors.New("invalid cron schedule")
	ErrInvalidConfig   = errors.New("invalid scheduler configuration")
)
