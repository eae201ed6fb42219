package scheduler

import "time"

// Task is a unit of submitted work: agent code to run plus its priority.
type Task struct {
	ID         string
	Code       []byte
	Priority   uint32
	SubmitTime time.Time
}
