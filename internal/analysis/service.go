package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"github.com/kormo-connect/backend/internal/tasks"
	"go.uber.org/zap"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDependency = errors.New("analysis: dependency is required")
)

const (
	component     = "analysis"
	opAnalyze     = "analysis.analyze"
	reasonInvalid = "invalid_request"
	reasonProfile = "profile_lookup_failed"
	reasonTask    = "task_lookup_failed"
	reasonCompute = "compute_failed"
	reasonUpsert  = "upsert_failed"
	fieldWorkerID = "worker_id"
	fieldTaskID   = "task_id"
)

// ProfileSource loads the caller's profile.
type ProfileSource interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
}

// TaskSource loads jobs.
type TaskSource interface {
	Get(ctx context.Context, id string) (tasks.Task, error)
}

// QuotaEnforcer consumes one call or returns *quota.DeniedError.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, accountID string, op quota.Operation, tier profiles.Tier) error
}

// ServiceConfig wires the suitability analysis flow.
type ServiceConfig struct {
	Cache     *Cache
	Records   *Records
	Profiles  ProfileSource
	Tasks     TaskSource
	Quota     QuotaEnforcer
	Completer ai.Completer
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service runs analyze-suitability: cache, quota, completion, parse, upsert.
type Service struct {
	cache     *Cache
	records   *Records
	profiles  ProfileSource
	tasks     TaskSource
	quota     QuotaEnforcer
	completer ai.Completer
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService validates dependencies and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Cache == nil || cfg.Records == nil || cfg.Profiles == nil || cfg.Tasks == nil || cfg.Quota == nil || cfg.Completer == nil {
		return nil, errMissingDependency
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:     cfg.Cache,
		records:   cfg.Records,
		profiles:  cfg.Profiles,
		tasks:     cfg.Tasks,
		quota:     cfg.Quota,
		completer: cfg.Completer,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Request asks for the suitability of a worker for a task. A nil or blank Profile means the
// stored profile text is used.
type Request struct {
	WorkerID string
	TaskID   string
	Profile  *profiles.Signature
}

// Outcome is the analysis returned to the caller plus the persisted record.
type Outcome struct {
	Result   Result
	Record   Record
	CacheHit bool
}

// AnalyzeSuitability returns the analysis for (worker, task). Cache hits skip both the quota
// and the completer. Every successful call leaves exactly one record for the pair.
func (s *Service) AnalyzeSuitability(ctx context.Context, request Request) (Outcome, error) {
	workerID := strings.TrimSpace(request.WorkerID)
	taskID := strings.TrimSpace(request.TaskID)
	if workerID == "" || taskID == "" {
		return Outcome{}, serviceerr.Invalid(opAnalyze, reasonInvalid, "taskId is required")
	}

	profile, err := s.profiles.Get(ctx, workerID)
	if err != nil {
		if !errors.Is(err, profiles.ErrProfileNotFound) {
			serviceerr.Log(s.logger, component, opAnalyze, reasonProfile, err, zap.String(fieldWorkerID, workerID))
		}
		return Outcome{}, serviceerr.New(opAnalyze, reasonProfile, err)
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, tasks.ErrTaskNotFound) {
			serviceerr.Log(s.logger, component, opAnalyze, reasonTask, err, zap.String(fieldTaskID, taskID))
		}
		return Outcome{}, serviceerr.New(opAnalyze, reasonTask, err)
	}

	signature := profile.Signature()
	if request.Profile != nil && !request.Profile.IsBlank() {
		signature = *request.Profile
	}
	tier := profile.Tier(s.clock())
	key := DeriveCacheKey(signature, taskID)

	result, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (Result, error) {
		if err := s.quota.Enforce(ctx, workerID, quota.OperationSuitability, tier); err != nil {
			return Result{}, err
		}
		text, err := s.completer.Complete(ctx, BuildSuitabilityPrompt(signature, task))
		if err != nil {
			return Result{}, err
		}
		parsed := Parse(text)
		if parsed.Kind == KindFallback {
			s.logger.Warn("analysis reply not parseable, using fallback",
				zap.String(fieldWorkerID, workerID),
				zap.String(fieldTaskID, taskID),
			)
		}
		return parsed, nil
	})
	if err != nil {
		var denied *quota.DeniedError
		if !errors.As(err, &denied) {
			serviceerr.Log(s.logger, component, opAnalyze, reasonCompute, err,
				zap.String(fieldWorkerID, workerID),
				zap.String(fieldTaskID, taskID),
			)
		}
		return Outcome{}, serviceerr.New(opAnalyze, reasonCompute, err)
	}

	record, err := s.records.Upsert(ctx, workerID, taskID, result)
	if err != nil {
		serviceerr.Log(s.logger, component, opAnalyze, reasonUpsert, err,
			zap.String(fieldWorkerID, workerID),
			zap.String(fieldTaskID, taskID),
		)
		return Outcome{}, serviceerr.Persistence(opAnalyze, reasonUpsert, err)
	}

	return Outcome{Result: result, Record: record, CacheHit: hit}, nil
}
