package domain

import "errors"

var (
	// ErrExecutorFailure marks a task that ran and reported an application error.
	ErrExecutorFailure = errors.New("executor failure")
	// ErrTimeout marks a task that did not report before its deadline.
	ErrTimeout = errors.New("task timeout")
	// ErrWorkerCrashed marks a task whose worker terminated while running it.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrDispatcherClosed is returned once the dispatcher has stopped.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrUnknownTask is reported when no executor is registered for a task name.
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidClipRequest wraps input validation failures of the clip executor.
	ErrInvalidClipRequest = errors.New("invalid clip request")
	// ErrExecutionNotFound is returned when an execution record does not exist.
	ErrExecutionNotFound = errors.New("execution not found")
)
