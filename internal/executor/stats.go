package executor

import "time"

// Stats describes the most recent Map call of an Executor. Once a call
// returns, CompletedTasks+FailedTasks == TotalTasks; tasks skipped by an
// abort or a timeout count as failed.
type Stats struct {
	RunID          string        `json:"run_id"`
	Label          string        `json:"label"`
	Backend        Backend       `json:"backend"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	TotalTime      time.Duration `json:"total_time"`
	AvgTaskTime    time.Duration `json:"avg_task_time"`
}
