package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job payload")
)

// AssetKind names a generated document stored on a job.
type AssetKind string

const (
	AssetCoverLetter AssetKind = "cover_letter"
	AssetResume      AssetKind = "resume"
)

// Columns an upsert may overwrite. Ownership, source and detection time stay
// as first written.
var upsertColumns = []string{
	"title", "company", "location", "description", "salary_range",
	"requirements", "notes", "logo_url", "status", "application_url",
	"customized_resume", "cover_letter", "match_score", "updated_at",
}

// JobService is the job store bridge. Every query is scoped to the caller's
// user id.
type JobService struct {
	DB *gorm.DB
}

func NewJobService(db *gorm.DB) *JobService {
	return &JobService{
		DB: db,
	}
}

// List returns the caller's jobs, most recently detected first.
func (s *JobService) List(ctx context.Context, userID string) ([]models.Job, error) {
	jobs := []models.Job{}
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("detected_at DESC").
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Get loads one job or returns ErrJobNotFound.
func (s *JobService) Get(ctx context.Context, userID, id string) (*models.Job, error) {
	var job models.Job
	err := s.DB.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Upsert inserts job or overwrites the caller's existing job with the same id.
func (s *JobService) Upsert(ctx context.Context, userID string, job *models.Job) (*models.Job, error) {
	if err := prepareJob(userID, job); err != nil {
		return nil, err
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(job).Error
	if err != nil {
		return nil, fmt.Errorf("upsert job: %w", err)
	}
	return s.Get(ctx, userID, job.ID)
}

// Import inserts jobs whose id the caller does not hold yet and returns how
// many were added. Existing rows are left untouched, so importing the same
// scan twice adds nothing.
func (s *JobService) Import(ctx context.Context, userID string, jobs []models.Job) (int, error) {
	added := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range jobs {
			job := jobs[i]
			if err := prepareJob(userID, &job); err != nil {
				return err
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job)
			if res.Error != nil {
				return res.Error
			}
			added += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import jobs: %w", err)
	}
	return added, nil
}

// Delete removes the caller's job. Deleting a missing job is not an error.
func (s *JobService) Delete(ctx context.Context, userID, id string) error {
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&models.Job{}).Error
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// UpdateStatus moves a job along the pipeline and records the change.
func (s *JobService) UpdateStatus(ctx context.Context, userID, id string, to models.JobStatus) (*models.Job, error) {
	var updated models.Job
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND id = ?", userID, id).First(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		from := updated.Status
		if !models.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
		}
		if from == to {
			return nil
		}

		if err := tx.Model(&updated).Update("status", to).Error; err != nil {
			return err
		}
		updated.Status = to
		return tx.Create(&models.JobEvent{
			UserID:    userID,
			JobID:     id,
			EventType: models.EventStatusChange,
			Details:   fmt.Sprintf("%s -> %s", from, to),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SaveAsset stores a generated cover letter or tailored resume on a job.
func (s *JobService) SaveAsset(ctx context.Context, userID, id string, kind AssetKind, text string) error {
	column, event := "cover_letter", models.EventCoverLetter
	if kind == AssetResume {
		column, event = "customized_resume", models.EventResumeTailored
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("user_id = ? AND id = ?", userID, id).
			Update(column, text)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return tx.Create(&models.JobEvent{
			UserID:    userID,
			JobID:     id,
			EventType: event,
			Details:   fmt.Sprintf("%d characters", len(text)),
		}).Error
	})
}

// Events returns a job's history, oldest first.
func (s *JobService) Events(ctx context.Context, userID, id string) ([]models.JobEvent, error) {
	events := []models.JobEvent{}
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND job_id = ?", userID, id).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	return events, nil
}

func prepareJob(userID string, job *models.Job) error {
	if job.ID == "" || job.Title == "" {
		return ErrInvalidJob
	}
	job.UserID = userID

	if job.Status == "" {
		job.Status = models.StatusDetected
	}
	st, err := models.ParseJobStatus(string(job.Status))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	job.Status = st

	if job.Source == "" {
		job.Source = models.SourceManual
	}
	if job.DetectedAt.IsZero() {
		job.DetectedAt = time.Now().UTC()
	}
	if job.Requirements == nil {
		job.Requirements = []string{}
	}
	return nil
}
