package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWelcomeEmail   JobType = "welcome_email"
	JobTypeDocumentBackup JobType = "document_backup"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WelcomeEmailJobPayload contains the payload for welcome email jobs
type WelcomeEmailJobPayload struct {
	AccountID uint `json:"account_id"`
}

// ToMap converts the payload to a map for storage
func (p WelcomeEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"account_id": p.AccountID,
	}
}

// WelcomeEmailJobPayloadFromMap creates a payload from a map
func WelcomeEmailJobPayloadFromMap(data map[string]interface{}) (*WelcomeEmailJobPayload, error) {
	var payload WelcomeEmailJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DocumentBackupJobPayload contains the payload for mirroring the documents
// of one account to S3
type DocumentBackupJobPayload struct {
	AccountID uint     `json:"account_id"`
	Types     []string `json:"types,omitempty"` // empty means every document
}

// ToMap converts the payload to a map for storage
func (p DocumentBackupJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"account_id": p.AccountID,
	}
	if len(p.Types) > 0 {
		m["types"] = p.Types
	}
	return m
}

// DocumentBackupJobPayloadFromMap creates a payload from a map
func DocumentBackupJobPayloadFromMap(data map[string]interface{}) (*DocumentBackupJobPayload, error) {
	var payload DocumentBackupJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func fromMap(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
