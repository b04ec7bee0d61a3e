package reviews

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kormo-connect/backend/internal/ids"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"github.com/kormo-connect/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotTaskOwner means the reviewing company did not post the task.
var ErrNotTaskOwner = errors.New("reviews: task belongs to another employer")

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	component         = "reviews"
	opSubmit          = "reviews.submit"
	reasonInvalid     = "invalid_request"
	reasonTask        = "task_lookup_failed"
	reasonOwner       = "not_task_owner"
	reasonIDFailed    = "id_generation_failed"
	reasonUpsert      = "upsert_failed"
	reasonTransaction = "transaction_failed"

	minRating = 1
	maxRating = 5

	maxFeedbackLength = 5000
)

// Submission is the employer's input. Category ratings are optional.
type Submission struct {
	TaskID            string
	WorkerID          string
	QualityRating     *int
	TimelinessRating  *int
	ReliabilityRating *int
	OverallRating     int
	FeedbackText      string
}

// Outcome reports the stored review and whether it replaced an earlier one.
type Outcome struct {
	Review  Review
	Updated bool
}

// ServiceConfig wires the review service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service records worker reviews.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New("reviews.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New("reviews.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Submit creates or overwrites the company's review of the worker on the task in a single
// INSERT ... ON CONFLICT statement.
func (s *Service) Submit(ctx context.Context, companyID string, submission Submission) (Outcome, error) {
	companyID = strings.TrimSpace(companyID)
	submission.TaskID = strings.TrimSpace(submission.TaskID)
	submission.WorkerID = strings.TrimSpace(submission.WorkerID)
	submission.FeedbackText = strings.TrimSpace(submission.FeedbackText)
	if err := validate(companyID, submission); err != nil {
		return Outcome{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Outcome{}, serviceerr.New(opSubmit, reasonIDFailed, err)
	}
	now := s.clock().UTC().Unix()
	candidate := Review{
		ID:                id,
		TaskID:            submission.TaskID,
		WorkerID:          submission.WorkerID,
		CompanyID:         companyID,
		QualityRating:     submission.QualityRating,
		TimelinessRating:  submission.TimelinessRating,
		ReliabilityRating: submission.ReliabilityRating,
		OverallRating:     submission.OverallRating,
		FeedbackText:      submission.FeedbackText,
		CreatedAtSeconds:  now,
		UpdatedAtSeconds:  now,
	}

	var stored Review
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := tasks.Find(tx, submission.TaskID)
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return serviceerr.New(opSubmit, reasonTask, err)
		}
		if err != nil {
			return serviceerr.Persistence(opSubmit, reasonTask, err)
		}
		if task.EmployerID != companyID {
			return serviceerr.New(opSubmit, reasonOwner, ErrNotTaskOwner)
		}

		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}, {Name: "worker_id"}, {Name: "company_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quality_rating", "timeliness_rating", "reliability_rating",
				"overall_rating", "feedback_text", "updated_at_s",
			}),
		}).Create(&candidate).Error
		if err != nil {
			return serviceerr.Persistence(opSubmit, reasonUpsert, err)
		}
		err = tx.Where("task_id = ? AND worker_id = ? AND company_id = ?", submission.TaskID, submission.WorkerID, companyID).
			Take(&stored).Error
		if err != nil {
			return serviceerr.Persistence(opSubmit, reasonUpsert, err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, tasks.ErrTaskNotFound) && !errors.Is(txErr, ErrNotTaskOwner) {
			serviceerr.Log(s.logger, component, opSubmit, reasonTransaction, txErr,
				zap.String("company_id", companyID),
				zap.String("task_id", submission.TaskID),
			)
		}
		return Outcome{}, txErr
	}

	// the conflict branch keeps the original id
	updated := stored.ID != id
	s.logger.Info("worker review stored",
		zap.String("company_id", companyID),
		zap.String("worker_id", stored.WorkerID),
		zap.String("task_id", stored.TaskID),
		zap.Bool("updated", updated),
	)
	return Outcome{Review: stored, Updated: updated}, nil
}

func validate(companyID string, submission Submission) error {
	switch {
	case companyID == "":
		return serviceerr.Invalid(opSubmit, reasonInvalid, "company is required")
	case submission.TaskID == "" || submission.WorkerID == "":
		return serviceerr.Invalid(opSubmit, reasonInvalid, "Task ID and Worker ID are required")
	case submission.WorkerID == companyID:
		return serviceerr.Invalid(opSubmit, reasonInvalid, "You cannot review yourself")
	case submission.OverallRating < minRating || submission.OverallRating > maxRating:
		return serviceerr.Invalid(opSubmit, reasonInvalid, "Overall rating must be between 1 and 5")
	case len(submission.FeedbackText) > maxFeedbackLength:
		return serviceerr.Invalid(opSubmit, reasonInvalid, "Feedback must be at most 5000 characters")
	}
	for _, rating := range []*int{submission.QualityRating, submission.TimelinessRating, submission.ReliabilityRating} {
		if rating != nil && (*rating < minRating || *rating > maxRating) {
			return serviceerr.Invalid(opSubmit, reasonInvalid, "Category ratings must be between 1 and 5")
		}
	}
	return nil
}
