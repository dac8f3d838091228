package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEscalationScan flags requisitions waiting too long for review.
	TaskEscalationScan = "requisition:escalation_scan"
)

// EscalationScanPayload describes one scan request.
type EscalationScanPayload struct {
	// Trigger records who asked for the scan: "cron" or "cli".
	Trigger string `json:"trigger"`
}

// NewEscalationScanTask constructs an Asynq task.
func NewEscalationScanTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	data, err := json.Marshal(EscalationScanPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationScan, data, asynq.Queue(QueueDefault)), nil
}
