package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/kormo-connect/backend/internal/ids"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRecordNotFound indicates no analysis exists for the (worker, task) pair.
var ErrRecordNotFound = errors.New("analysis: record not found")

// Record is the authoritative analysis for a (worker, task) pair.
type Record struct {
	ID               string                      `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	WorkerID         string                      `gorm:"column:worker_id;size:190;not null;uniqueIndex:idx_analyses_worker_task" json:"worker_id"`
	TaskID           string                      `gorm:"column:task_id;size:190;not null;uniqueIndex:idx_analyses_worker_task" json:"task_id"`
	Score            float64                     `gorm:"column:score;not null" json:"score"`
	Strengths        datatypes.JSONSlice[string] `gorm:"column:strengths;not null" json:"strengths"`
	Weaknesses       datatypes.JSONSlice[string] `gorm:"column:weaknesses;not null" json:"weaknesses"`
	Suggestions      datatypes.JSONSlice[string] `gorm:"column:suggestions;not null" json:"suggestions"`
	CreatedAtSeconds int64                       `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtSeconds int64                       `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName exposes the table backing analysis records.
func (Record) TableName() string {
	return "analyses"
}

// Result converts the stored record back into the client payload.
func (r Record) Result() Result {
	return Result{
		Score:       r.Score,
		Strengths:   []string(r.Strengths),
		Weaknesses:  []string(r.Weaknesses),
		Suggestions: []string(r.Suggestions),
		Kind:        KindParsed,
	}
}

// Records persists analysis records.
type Records struct {
	db         *gorm.DB
	idProvider ids.Provider
	clock      func() time.Time
}

// NewRecords constructs the record repository.
func NewRecords(db *gorm.DB, idProvider ids.Provider, clock func() time.Time) (*Records, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if idProvider == nil {
		return nil, errMissingIDProvider
	}
	if clock == nil {
		clock = time.Now
	}
	return &Records{db: db, idProvider: idProvider, clock: clock}, nil
}

// Upsert writes the analysis for (workerID, taskID) in a single INSERT ... ON CONFLICT
// statement and returns the stored row. Re-analysis overwrites the previous values.
func (r *Records) Upsert(ctx context.Context, workerID, taskID string, result Result) (Record, error) {
	id, err := r.idProvider.NewID()
	if err != nil {
		return Record{}, err
	}
	now := r.clock().UTC().Unix()
	record := Record{
		ID:               id,
		WorkerID:         workerID,
		TaskID:           taskID,
		Score:            result.Score,
		Strengths:        datatypes.JSONSlice[string](result.Strengths),
		Weaknesses:       datatypes.JSONSlice[string](result.Weaknesses),
		Suggestions:      datatypes.JSONSlice[string](result.Suggestions),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}, {Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "strengths", "weaknesses", "suggestions", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		return Record{}, err
	}
	return r.Find(ctx, workerID, taskID)
}

// Find loads the record for the pair.
func (r *Records) Find(ctx context.Context, workerID, taskID string) (Record, error) {
	return FindRecord(r.db.WithContext(ctx), workerID, taskID)
}

// FindRecord loads the record through any handle, including an open transaction.
func FindRecord(db *gorm.DB, workerID, taskID string) (Record, error) {
	var record Record
	err := db.Where("worker_id = ? AND task_id = ?", workerID, taskID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return record, nil
}
