package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobRequest is what an admin asked for. No URLs and no sitemap means the
// configured source list.
type JobRequest struct {
	URLs     []string `json:"urls,omitempty"`
	Sitemaps []string `json:"sitemaps,omitempty"`
	Prune    bool     `json:"prune,omitempty"`
}

type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	Status  JobStatus  `gorm:"type:varchar(16);index;not null" json:"status"`
	Request JobRequest `gorm:"serializer:json;type:text" json:"request"`

	// Filled when succeeded
	Summary *Summary `gorm:"serializer:json;type:text" json:"summary,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Job) TableName() string { return "ingest_jobs" }

type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, req JobRequest) (*Job, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job := &Job{ID: id, Status: JobQueued, Request: req}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFound("get job", err)
		}
		return nil, err
	}
	return &j, nil
}

// MarkRunning moves a queued job to running. ok is false when the job was
// not queued, e.g. a redelivered message for a job already picked up.
func (r *JobRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Updates(map[string]any{"status": JobRunning, "started_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *JobRepo) MarkSucceeded(ctx context.Context, id string, sum *Summary) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Job{ID: id}).
		Select("status", "summary", "error", "finished_at").
		Updates(&Job{Status: JobSucceeded, Summary: sum, Error: nil, FinishedAt: &now}).Error
}

func (r *JobRepo) MarkFailed(ctx context.Context, id string, errMsg string, sum *Summary) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Job{ID: id}).
		Select("status", "summary", "error", "finished_at").
		Updates(&Job{Status: JobFailed, Summary: sum, Error: &errMsg, FinishedAt: &now}).Error
}
