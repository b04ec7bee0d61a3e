package matches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"go.uber.org/zap"
)

const (
	maxKeywords  = 3
	defaultLevel = "Intermediate"

	component      = "matches"
	opFindMatches  = "matches.find"
	reasonProfile  = "profile_lookup_failed"
	reasonCompute  = "compute_failed"
	reasonUnparsed = "reply_unparseable"
	fieldWorkerID  = "worker_id"
)

var (
	// ErrIncompleteProfile means the profile has no skills, experience or education.
	ErrIncompleteProfile = errors.New("matches: incomplete profile")
	// ErrUnparseableReply means the completer did not return the requested JSON.
	ErrUnparseableReply = errors.New("matches: unparseable reply")

	levels = map[string]string{
		"entry":        "Entry",
		"intermediate": "Intermediate",
		"senior":       "Senior",
		"expert":       "Expert",
	}

	suggestionOptions = ai.GenerationOptions{
		Temperature:     0.4,
		MaxOutputTokens: 200,
		JSONResponse:    true,
	}
)

// ProfileSource loads the caller's profile.
type ProfileSource interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
}

// QuotaEnforcer consumes one call or returns *quota.DeniedError.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, accountID string, op quota.Operation, tier profiles.Tier) error
}

// ServiceConfig wires the match suggestion flow.
type ServiceConfig struct {
	Profiles  ProfileSource
	Quota     QuotaEnforcer
	Completer ai.Completer
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service suggests job search keywords and a level from the stored profile.
type Service struct {
	profiles  ProfileSource
	quota     QuotaEnforcer
	completer ai.Completer
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil || cfg.Quota == nil || cfg.Completer == nil {
		return nil, errors.New("matches: profiles, quota and completer are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{profiles: cfg.Profiles, quota: cfg.Quota, completer: cfg.Completer, clock: clock, logger: logger}, nil
}

// Suggestion is the keyword and level recommendation.
type Suggestion struct {
	Keywords []string `json:"keywords"`
	Level    string   `json:"level"`
}

// FindBestMatches reads the worker's profile, consumes quota and asks the completer for
// search keywords.
func (s *Service) FindBestMatches(ctx context.Context, workerID string) (Suggestion, error) {
	profile, err := s.profiles.Get(ctx, workerID)
	if err != nil {
		return Suggestion{}, serviceerr.New(opFindMatches, reasonProfile, err)
	}
	if profile.Signature().IsBlank() {
		return Suggestion{}, serviceerr.New(opFindMatches, reasonProfile, ErrIncompleteProfile)
	}
	if err := s.quota.Enforce(ctx, profile.ID, quota.OperationJobMatch, profile.Tier(s.clock())); err != nil {
		return Suggestion{}, serviceerr.New(opFindMatches, reasonCompute, err)
	}

	text, err := s.completer.Complete(ctx, buildPrompt(profile))
	if err != nil {
		serviceerr.Log(s.logger, component, opFindMatches, reasonCompute, err, zap.String(fieldWorkerID, profile.ID))
		return Suggestion{}, serviceerr.New(opFindMatches, reasonCompute, err)
	}

	var raw Suggestion
	if err := ai.ExtractJSON(text, &raw); err != nil {
		s.logger.Warn("match reply not parseable", zap.String(fieldWorkerID, profile.ID), zap.Error(err))
		return Suggestion{}, serviceerr.New(opFindMatches, reasonUnparsed, errors.Join(ErrUnparseableReply, err))
	}
	suggestion := normalize(raw)
	if len(suggestion.Keywords) == 0 {
		return Suggestion{}, serviceerr.New(opFindMatches, reasonUnparsed, ErrUnparseableReply)
	}
	return suggestion, nil
}

func normalize(raw Suggestion) Suggestion {
	seen := map[string]struct{}{}
	keywords := make([]string, 0, maxKeywords)
	for _, keyword := range raw.Keywords {
		keyword = strings.TrimSpace(keyword)
		lowered := strings.ToLower(keyword)
		if keyword == "" {
			continue
		}
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}
		keywords = append(keywords, keyword)
		if len(keywords) == maxKeywords {
			break
		}
	}
	level, ok := levels[strings.ToLower(strings.TrimSpace(raw.Level))]
	if !ok {
		level = defaultLevel
	}
	return Suggestion{Keywords: keywords, Level: level}
}

func buildPrompt(profile profiles.Profile) ai.Prompt {
	text := fmt.Sprintf(`You are a career advisor. Suggest job search keywords and a job level for this professional.

Skills: %s
Experience: %s
Education: %s

Give 2 or 3 specific keywords (job titles, technologies or fields) and one level from Entry, Intermediate, Senior, Expert.
Entry: 0-2 years. Intermediate: 2-5 years. Senior: 5-10 years. Expert: 10+ years.

Respond only with JSON: {"keywords": ["..."], "level": "Entry|Intermediate|Senior|Expert"}`,
		orNotProvided(profile.Skills), orNotProvided(profile.Experience), orNotProvided(profile.Education))
	return ai.Prompt{Text: text, Options: suggestionOptions}
}

func orNotProvided(value string) string {
	if strings.TrimSpace(value) == "" {
		return "Not provided"
	}
	return value
}
