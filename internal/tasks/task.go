package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrTaskNotFound indicates the referenced job does not exist.
var ErrTaskNotFound = errors.New("tasks: task not found")

// Task is the read model of a job posting.
type Task struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	EmployerID      string    `gorm:"column:employer_id;size:190;index"`
	Title           string    `gorm:"column:title;size:255;not null"`
	Description     string    `gorm:"column:description;type:text"`
	RequiredSkills  string    `gorm:"column:required_skills;type:text"`
	ExperienceLevel string    `gorm:"column:experience_level;size:32"`
	IsPublic        bool      `gorm:"column:is_public;not null;default:false"`
	IsBoosted       bool      `gorm:"column:is_boosted;not null;default:false;index"`
	BoostExpiresAt  *int64    `gorm:"column:boost_expires_at_s"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing tasks.
func (Task) TableName() string {
	return "tasks"
}

// Repository reads tasks.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps the database handle.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("tasks: database connection required")
	}
	return &Repository{db: db}, nil
}

// Get loads a task by id.
func (r *Repository) Get(ctx context.Context, id string) (Task, error) {
	return Find(r.db.WithContext(ctx), id)
}

// Create stores a task. Job CRUD belongs to the employer surface; this is used for seeding.
func (r *Repository) Create(ctx context.Context, task Task) (Task, error) {
	if strings.TrimSpace(task.ID) == "" || strings.TrimSpace(task.Title) == "" {
		return Task{}, fmt.Errorf("tasks: id and title are required")
	}
	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		return Task{}, err
	}
	return task, nil
}

// Find loads a task through any handle, including an open transaction.
func Find(db *gorm.DB, id string) (Task, error) {
	var task Task
	err := db.Where("id = ?", id).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// ExpireBoosts clears the boost on every task whose boost ended at or before now and returns
// the ids it changed.
func (r *Repository) ExpireBoosts(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UTC().Unix()
	var expired []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Task{}).
			Where("is_boosted = ? AND boost_expires_at_s IS NOT NULL AND boost_expires_at_s <= ?", true, cutoff).
			Pluck("id", &expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		return tx.Model(&Task{}).
			Where("id IN ?", expired).
			Updates(map[string]interface{}{
				"is_boosted":         false,
				"boost_expires_at_s": gorm.Expr("NULL"),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
