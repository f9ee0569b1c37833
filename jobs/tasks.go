package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskShopEOD rolls shop closings into the catalog baselines.
	TaskShopEOD = "ledger:shop_eod"
	// TaskOnBarEOD archives and resets on-bar day counters.
	TaskOnBarEOD = "ledger:onbar_eod"
	// TaskEODCheck reports whether an on-bar rollover is still pending.
	TaskEODCheck = "ledger:eod_check"
)

// RolloverPayload describes a requested end-of-day rollover. An empty Date means
// the business day at the time the task runs.
type RolloverPayload struct {
	Date    string `json:"date,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

// NewRolloverTask constructs a rollover task of the given type.
func NewRolloverTask(taskType string, payload RolloverPayload) (*asynq.Task, error) {
	switch taskType {
	case TaskShopEOD, TaskOnBarEOD, TaskEODCheck:
	default:
		return nil, fmt.Errorf("jobs: unknown rollover task %q", taskType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewEODCheckTask constructs the nightly advisory task.
func NewEODCheckTask() (*asynq.Task, error) {
	return NewRolloverTask(TaskEODCheck, RolloverPayload{ActorID: "scheduler"})
}
