// Package jobstore implements the durable, shared job queue backing the
// report pipeline. Jobs live in Redis so that definitions survive process
// restarts and can be consumed by any worker instance.
//
// Two job shapes are supported: one-shot delayed jobs and cron-recurring
// jobs. In both cases the job ID is the idempotency key: enqueuing with an
// existing ID atomically replaces the prior definition, so re-scheduling a
// report never produces duplicate firings.
package jobstore

import (
	"encoding/json"
	"errors"
	"time"
)

// Queue names used by the pipeline. The job ID patterns
// "generate-report-{reportID}" and "send-email-{reportID}" are load-bearing:
// replace-by-id idempotency depends on them.
const (
	QueueGeneration = "report-generation"
	QueueDelivery   = "email-sending"
)

// GenerationJobID returns the deterministic job ID for a report's
// generation job.
func GenerationJobID(reportID string) string {
	return "generate-report-" + reportID
}

// DeliveryJobID returns the deterministic job ID for a report's recurring
// delivery job.
func DeliveryJobID(reportID string) string {
	return "send-email-" + reportID
}

// JobState is the lifecycle state of a job in the store.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCanceled  JobState = "canceled"
)

// Job is a claimed unit of work handed to a worker. Attempt is 1-based and
// assigned by the store at claim time. Meta is mutable job state that
// survives retries of the same occurrence but is reset when a recurring job
// rolls over to its next occurrence. Epoch identifies the enqueue this
// attempt belongs to: re-enqueuing the same ID mints a new epoch, and a
// stale attempt's outcome must not touch the replacement's state.
type Job struct {
	ID           string
	Queue        string
	Payload      json.RawMessage
	Meta         map[string]string
	Epoch        string
	Attempt      int
	MaxAttempts  int
	FireAt       time.Time
	CronExpr     string
	Timezone     string
	StalledCount int
}

// Recurring reports whether the job was materialized from a cron-recurring
// definition.
func (j *Job) Recurring() bool {
	return j.CronExpr != ""
}

// GenerationPayload is the payload of a generation job.
type GenerationPayload struct {
	ReportID string `json:"report_id"`
	Title    string `json:"title"`
	Layout   string `json:"layout"`
}

// DeliveryPayload is the payload of a delivery job. Recipients is the
// delimited storage form carried verbatim from the report row.
type DeliveryPayload struct {
	ReportID   string `json:"report_id"`
	Title      string `json:"title"`
	Recipients string `json:"recipients"`
}

// MetaHistoryUID is the Meta key under which the delivery worker carries the
// history row UID across retries of one occurrence.
const MetaHistoryUID = "history_uid"

// ErrNoJob is returned by Claim when no job is due on the queue.
var ErrNoJob = errors.New("jobstore: no job due")

// RecoveryStats summarizes one stalled-job recovery pass.
type RecoveryStats struct {
	Requeued int
	Failed   int
}
