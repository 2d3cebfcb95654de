package models

import "errors"

var (
	// ErrNoMessage is returned when the queue is empty
	ErrNoMessage = errors.New("no messages in queue")

	// ErrReportNotFound is returned when no persistent record exists for a report id
	ErrReportNotFound = errors.New("report not found")

	// ErrTaskNotFound is returned when no task exists for an async handle
	ErrTaskNotFound = errors.New("task not found")

	// ErrStatusRegression is returned when a write would move a status backwards
	ErrStatusRegression = errors.New("status regression")

	// ErrResultKeyNotFound is returned when a result key is absent from a task result
	ErrResultKeyNotFound = errors.New("result key not found")
)

// ErrResultKeyAssigned is returned when a record already carries a different result key
var ErrResultKeyAssigned = errors.New("result key already assigned")

// ErrTaskFailed is returned by async result waits when the task finished with FAILURE
var ErrTaskFailed = errors.New("task failed")

// ErrTaskNotFinished is returned when a result is requested before the task succeeded
var ErrTaskNotFinished = errors.New("task not finished")
