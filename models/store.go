package models

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	OwnerID   string
	ProjectID string
	Status    JobStatus
	Limit     int
	Offset    int
}

// JobStats summarises one owner's jobs.
type JobStats struct {
	Total              int64   `json:"totalJobs"`
	Completed          int64   `json:"completedJobs"`
	Failed             int64   `json:"failedJobs"`
	AverageDurationSec float64 `json:"averageProcessingSeconds"`
}

// ForUpdate takes a row lock on dialects that have one. sqlite serialises
// writers already.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(resource, id)
	}
	return err
}

// CreateProjectWithJob inserts a project and its first job atomically.
func CreateProjectWithJob(db *gorm.DB, p *Project, j *Job) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return tx.Create(j).Error
	})
}

func GetProject(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "project", id)
	}
	return &p, nil
}

func GetJob(db *gorm.DB, id string) (*Job, error) {
	var j Job
	if err := db.First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return &j, nil
}

// GetJobForOwner hides jobs of other owners behind NotFound.
func GetJobForOwner(db *gorm.DB, ownerID, id string) (*Job, error) {
	var j Job
	if err := db.First(&j, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return &j, nil
}

func ListJobs(db *gorm.DB, f JobFilter) ([]Job, error) {
	q := db.Model(&Job{})
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var jobs []Job
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// mutate reads one row inside a transaction, applies fn and saves the
// result. When fn fails nothing is written.
func mutate[T any](db *gorm.DB, resource, id string, fn func(*T) error) (*T, error) {
	var out T
	err := db.Transaction(func(tx *gorm.DB) error {
		var v T
		if err := ForUpdate(tx).First(&v, "id = ?", id).Error; err != nil {
			return notFound(err, resource, id)
		}
		if err := fn(&v); err != nil {
			return err
		}
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func MutateJob(db *gorm.DB, id string, fn func(*Job) error) (*Job, error) {
	return mutate(db, "job", id, fn)
}

func MutateProject(db *gorm.DB, id string, fn func(*Project) error) (*Project, error) {
	return mutate(db, "project", id, fn)
}

func MutateConsent(db *gorm.DB, id string, fn func(*ConsentRecord) error) (*ConsentRecord, error) {
	return mutate(db, "consent record", id, fn)
}

func MutateProvenance(db *gorm.DB, id string, fn func(*ProvenanceRecord) error) (*ProvenanceRecord, error) {
	return mutate(db, "provenance record", id, fn)
}

// DeleteProject removes a project and everything it owns. Projects with
// active jobs are refused.
func DeleteProject(db *gorm.DB, ownerID, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.First(&p, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
			return notFound(err, "project", id)
		}
		var active int64
		if err := tx.Model(&Job{}).
			Where("project_id = ? AND status IN ?", id, []JobStatus{JobStatusPending, JobStatusRunning, JobStatusRetrying}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return Invalid("project", "%d active job(s) still reference it", active)
		}
		for _, owned := range []interface{}{&Job{}, &ConsentRecord{}, &WatermarkRecord{}, &ProvenanceRecord{}} {
			if err := tx.Where("project_id = ?", id).Delete(owned).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&p).Error
	})
}

func GetJobStats(db *gorm.DB, ownerID string) (JobStats, error) {
	var stats JobStats
	base := func() *gorm.DB { return db.Model(&Job{}).Where("owner_id = ?", ownerID) }
	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base().Where("status = ?", JobStatusCompleted).Count(&stats.Completed).Error; err != nil {
		return stats, err
	}
	if err := base().Where("status = ?", JobStatusFailed).Count(&stats.Failed).Error; err != nil {
		return stats, err
	}
	var avg struct{ Avg *float64 }
	if err := base().Where("status = ?", JobStatusCompleted).Select("AVG(actual_duration) AS avg").Scan(&avg).Error; err != nil {
		return stats, err
	}
	if avg.Avg != nil {
		stats.AverageDurationSec = *avg.Avg
	}
	return stats, nil
}
