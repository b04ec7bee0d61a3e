package cvextract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"github.com/kormo-connect/backend/internal/storage"
	"go.uber.org/zap"
)

// MaxFileBytes is the largest CV accepted.
const MaxFileBytes = 10 << 20

const (
	component      = "cvextract"
	opAnalyzeCV    = "cvextract.analyze"
	reasonInvalid  = "invalid_file"
	reasonProfile  = "profile_lookup_failed"
	reasonCompute  = "compute_failed"
	reasonExtract  = "extraction_unparseable"
	reasonUpdate   = "profile_update_failed"
	fieldWorkerID  = "worker_id"
	fieldObjectKey = "object_key"
	successMessage = "CV analyzed successfully. Your profile has been updated."
)

var (
	// ErrUnparseableReply means the completer did not return the requested JSON.
	ErrUnparseableReply = errors.New("cvextract: unparseable reply")

	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

	allowedTypes = map[string]string{
		".pdf":  "application/pdf",
		".doc":  "application/msword",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".txt":  "text/plain",
	}

	extractionOptions = ai.GenerationOptions{
		Temperature:     0.1,
		MaxOutputTokens: 1024,
		JSONResponse:    true,
	}
)

// ProfileStore is the subset of the profile service used here.
type ProfileStore interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
	ApplyCVExtraction(ctx context.Context, id string, fields profiles.CVFields) (profiles.Profile, error)
	RecordCVUpload(ctx context.Context, id, objectKey, filename string) error
}

// QuotaEnforcer consumes one call or returns *quota.DeniedError.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, accountID string, op quota.Operation, tier profiles.Tier) error
}

// ServiceConfig wires the CV analysis flow. Storage is optional.
type ServiceConfig struct {
	Profiles  ProfileStore
	Quota     QuotaEnforcer
	Completer ai.Completer
	Storage   storage.ObjectStore
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service extracts structured profile fields from uploaded CVs.
type Service struct {
	profiles  ProfileStore
	quota     QuotaEnforcer
	completer ai.Completer
	storage   storage.ObjectStore
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil || cfg.Quota == nil || cfg.Completer == nil {
		return nil, errors.New("cvextract: profiles, quota and completer are required")
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
		profiles:  cfg.Profiles,
		quota:     cfg.Quota,
		completer: cfg.Completer,
		storage:   cfg.Storage,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Request carries a base64 encoded CV.
type Request struct {
	WorkerID   string
	FileBase64 string
	Filename   string
}

// Outcome is the extraction result and the updated profile.
type Outcome struct {
	Success       bool              `json:"success"`
	ExtractedData profiles.CVFields `json:"extracted_data"`
	Profile       profiles.Profile  `json:"profile"`
	Message       string            `json:"message"`
	ObjectKey     string            `json:"cv_object_key,omitempty"`
}

// AnalyzeCV validates the file, consumes quota, optionally archives the file, asks the
// completer for structured fields and writes them to the profile.
func (s *Service) AnalyzeCV(ctx context.Context, request Request) (Outcome, error) {
	filename := strings.TrimSpace(request.Filename)
	extension := strings.ToLower(filepath.Ext(filename))
	mimeType, ok := allowedTypes[extension]
	if !ok {
		return Outcome{}, serviceerr.Invalid(opAnalyzeCV, reasonInvalid, "file type must be one of pdf, doc, docx, txt")
	}
	data, err := decodeFile(request.FileBase64)
	if err != nil {
		return Outcome{}, serviceerr.Invalid(opAnalyzeCV, reasonInvalid, err.Error())
	}

	profile, err := s.profiles.Get(ctx, request.WorkerID)
	if err != nil {
		return Outcome{}, serviceerr.New(opAnalyzeCV, reasonProfile, err)
	}
	if err := s.quota.Enforce(ctx, profile.ID, quota.OperationCVAnalysis, profile.Tier(s.clock())); err != nil {
		return Outcome{}, serviceerr.New(opAnalyzeCV, reasonCompute, err)
	}

	objectKey := s.archive(ctx, profile.ID, filename, mimeType, data)

	text, err := s.completer.Complete(ctx, buildPrompt(filename, mimeType, data))
	if err != nil {
		serviceerr.Log(s.logger, component, opAnalyzeCV, reasonCompute, err, zap.String(fieldWorkerID, profile.ID))
		return Outcome{}, serviceerr.New(opAnalyzeCV, reasonCompute, err)
	}
	var fields profiles.CVFields
	if err := ai.ExtractJSON(text, &fields); err != nil {
		s.logger.Warn("cv extraction reply not parseable", zap.String(fieldWorkerID, profile.ID), zap.Error(err))
		return Outcome{}, serviceerr.New(opAnalyzeCV, reasonExtract, errors.Join(ErrUnparseableReply, err))
	}

	updated, err := s.profiles.ApplyCVExtraction(ctx, profile.ID, fields)
	if err != nil {
		serviceerr.Log(s.logger, component, opAnalyzeCV, reasonUpdate, err, zap.String(fieldWorkerID, profile.ID))
		return Outcome{}, serviceerr.Persistence(opAnalyzeCV, reasonUpdate, err)
	}

	return Outcome{
		Success:       true,
		ExtractedData: fields,
		Profile:       updated,
		Message:       successMessage,
		ObjectKey:     objectKey,
	}, nil
}

// archive stores the CV when storage is configured. Failures are logged and do not fail the
// analysis.
func (s *Service) archive(ctx context.Context, workerID, filename, mimeType string, data []byte) string {
	if s.storage == nil {
		return ""
	}
	key := ObjectKey(workerID, filename, s.clock())
	if err := s.storage.Put(ctx, key, mimeType, data); err != nil {
		s.logger.Warn("cv archive failed", zap.String(fieldWorkerID, workerID), zap.String(fieldObjectKey, key), zap.Error(err))
		return ""
	}
	if err := s.profiles.RecordCVUpload(ctx, workerID, key, filename); err != nil {
		s.logger.Warn("cv upload not recorded", zap.String(fieldWorkerID, workerID), zap.String(fieldObjectKey, key), zap.Error(err))
	}
	return key
}

// ObjectKey builds the storage key "<worker>/<unix ms>-<sanitized filename>".
func ObjectKey(workerID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s", workerID, now.UnixMilli(), unsafeFilenameChars.ReplaceAllString(filename, "_"))
}

func decodeFile(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	if encoded == "" {
		return nil, errors.New("cvFile is required")
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxFileBytes+3 {
		return nil, errors.New("file exceeds the 10MB limit")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("cvFile must be base64 encoded")
	}
	if len(data) == 0 {
		return nil, errors.New("cvFile is empty")
	}
	if len(data) > MaxFileBytes {
		return nil, errors.New("file exceeds the 10MB limit")
	}
	return data, nil
}
