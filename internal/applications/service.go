package applications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/ids"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"github.com/kormo-connect/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAnalysisRequired means the worker has not analyzed the task yet.
	ErrAnalysisRequired = errors.New("applications: analysis required")
	// ErrAlreadyApplied means an application for the pair already exists.
	ErrAlreadyApplied = errors.New("applications: already applied")
	// ErrTaskNotOpen means the task is not accepting applications.
	ErrTaskNotOpen = errors.New("applications: task not open")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	component         = "applications"
	opApply           = "applications.apply"
	reasonInvalid     = "invalid_request"
	reasonTask        = "task_lookup_failed"
	reasonTaskClosed  = "task_not_public"
	reasonAnalysis    = "analysis_lookup_failed"
	reasonIDFailed    = "id_generation_failed"
	reasonInsert      = "insert_failed"
	reasonDuplicate   = "already_applied"
	reasonTransaction = "transaction_failed"
	fieldWorkerID     = "worker_id"
	fieldTaskID       = "task_id"
)

// ServiceConfig wires the application service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service creates job applications.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New("applications.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New("applications.service.new", "missing_id_provider", errMissingIDProvider)
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

// Apply records the worker's application to a public task. It requires a prior analysis for
// the pair and creates at most one application per pair.
func (s *Service) Apply(ctx context.Context, workerID, taskID string) (Application, error) {
	workerID = strings.TrimSpace(workerID)
	taskID = strings.TrimSpace(taskID)
	if workerID == "" || taskID == "" {
		return Application{}, serviceerr.Invalid(opApply, reasonInvalid, "taskId is required")
	}

	var created Application
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := tasks.Find(tx, taskID)
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return serviceerr.New(opApply, reasonTask, err)
		}
		if err != nil {
			return serviceerr.Persistence(opApply, reasonTask, err)
		}
		if !task.IsPublic {
			return serviceerr.New(opApply, reasonTaskClosed, ErrTaskNotOpen)
		}

		record, err := analysis.FindRecord(tx, workerID, taskID)
		if errors.Is(err, analysis.ErrRecordNotFound) {
			return serviceerr.New(opApply, reasonAnalysis, ErrAnalysisRequired)
		}
		if err != nil {
			return serviceerr.Persistence(opApply, reasonAnalysis, err)
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return serviceerr.New(opApply, reasonIDFailed, err)
		}
		application := Application{
			ID:               id,
			TaskID:           taskID,
			WorkerID:         workerID,
			AnalysisID:       record.ID,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&application)
		if result.Error != nil {
			return serviceerr.Persistence(opApply, reasonInsert, result.Error)
		}
		if result.RowsAffected == 0 {
			return serviceerr.New(opApply, reasonDuplicate, ErrAlreadyApplied)
		}
		created = application
		return nil
	})
	if txErr != nil {
		if !isExpected(txErr) {
			serviceerr.Log(s.logger, component, opApply, reasonTransaction, txErr,
				zap.String(fieldWorkerID, workerID),
				zap.String(fieldTaskID, taskID),
			)
		}
		return Application{}, txErr
	}

	s.logger.Info("application created",
		zap.String(fieldWorkerID, workerID),
		zap.String(fieldTaskID, taskID),
		zap.String("application_id", created.ID),
	)
	return created, nil
}

func isExpected(err error) bool {
	return errors.Is(err, tasks.ErrTaskNotFound) ||
		errors.Is(err, ErrTaskNotOpen) ||
		errors.Is(err, ErrAnalysisRequired) ||
		errors.Is(err, ErrAlreadyApplied)
}
