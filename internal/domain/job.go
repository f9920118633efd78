package domain

import "time"

// JobStatus represents the status of a background job run.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRun records one execution of a background job and its outcome.
type JobRun struct {
	ID          string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Kind        string     `gorm:"type:varchar(50);not null;index:idx_job_runs_kind" json:"kind"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Status      JobStatus  `gorm:"type:varchar(20);default:pending" json:"status"`
	Result      string     `gorm:"type:text" json:"result,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for JobRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (JobRun) TableName() string {
	return "job_runs"
}
