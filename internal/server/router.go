package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/applications"
	"github.com/kormo-connect/backend/internal/auth"
	"github.com/kormo-connect/backend/internal/cvextract"
	"github.com/kormo-connect/backend/internal/matches"
	"github.com/kormo-connect/backend/internal/metrics"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/reviews"
	"go.uber.org/zap"
)

const (
	profileContextKey = "kormo_profile"
	functionsPrefix   = "/functions/v1"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingProfileStore   = errors.New("profile store dependency required")
	errMissingSuitability    = errors.New("suitability analyzer dependency required")
	errMissingCVAnalyzer     = errors.New("cv analyzer dependency required")
	errMissingMatchFinder    = errors.New("match finder dependency required")
	errMissingJobApplier     = errors.New("job applier dependency required")
	errMissingWorkerReviewer = errors.New("worker reviewer dependency required")
)

type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

type ProfileStore interface {
	EnsureProfile(ctx context.Context, subject, email string) (profiles.Profile, error)
}

type SuitabilityAnalyzer interface {
	AnalyzeSuitability(ctx context.Context, request analysis.Request) (analysis.Outcome, error)
}

type CVAnalyzer interface {
	AnalyzeCV(ctx context.Context, request cvextract.Request) (cvextract.Outcome, error)
}

type MatchFinder interface {
	FindBestMatches(ctx context.Context, workerID string) (matches.Suggestion, error)
}

type JobApplier interface {
	Apply(ctx context.Context, workerID, taskID string) (applications.Application, error)
}

type WorkerReviewer interface {
	Submit(ctx context.Context, companyID string, submission reviews.Submission) (reviews.Outcome, error)
}

// Dependencies wires the HTTP surface. Metrics is optional.
type Dependencies struct {
	Tokens         TokenValidator
	Profiles       ProfileStore
	Suitability    SuitabilityAnalyzer
	CV             CVAnalyzer
	Matches        MatchFinder
	Applications   JobApplier
	Reviews        WorkerReviewer
	Metrics        *metrics.Manager
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Tokens == nil:
		return nil, errMissingTokenValidator
	case deps.Profiles == nil:
		return nil, errMissingProfileStore
	case deps.Suitability == nil:
		return nil, errMissingSuitability
	case deps.CV == nil:
		return nil, errMissingCVAnalyzer
	case deps.Matches == nil:
		return nil, errMissingMatchFinder
	case deps.Applications == nil:
		return nil, errMissingJobApplier
	case deps.Reviews == nil:
		return nil, errMissingWorkerReviewer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics.Enabled() {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		tokens:       deps.Tokens,
		profiles:     deps.Profiles,
		suitability:  deps.Suitability,
		cv:           deps.CV,
		matches:      deps.Matches,
		applications: deps.Applications,
		reviews:      deps.Reviews,
		validate:     newRequestValidator(),
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)

	for _, prefix := range []string{"", functionsPrefix} {
		professional := router.Group(prefix)
		professional.Use(handler.authorizeRequest, handler.requireRole(profiles.RoleProfessional, messageForbidden))
		professional.POST("/analyze-suitability", handler.handleAnalyzeSuitability)
		professional.POST("/analyze-cv", handler.handleAnalyzeCV)
		professional.POST("/find-best-matches", handler.handleFindBestMatches)
		professional.POST("/apply-for-job", handler.handleApplyForJob)

		employer := router.Group(prefix)
		employer.Use(handler.authorizeRequest, handler.requireRole(profiles.RoleEmployer, messageEmployersOnly))
		employer.POST("/submit-worker-review", handler.handleSubmitWorkerReview)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			origins = nil
			break
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens       TokenValidator
	profiles     ProfileStore
	suitability  SuitabilityAnalyzer
	cv           CVAnalyzer
	matches      MatchFinder
	applications JobApplier
	reviews      WorkerReviewer
	validate     *validator.Validate
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortWithError(c, http.StatusUnauthorized, codeAuthenticationRequired, messageAuthenticationRequired)
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, codeAuthenticationRequired, messageAuthenticationRequired)
		return
	}
	profile, err := h.profiles.EnsureProfile(c.Request.Context(), claims.Subject, claims.Email)
	if err != nil {
		h.logger.Error("failed to ensure profile", zap.String("subject", claims.Subject), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codePersistenceFailed, messagePersistenceFailed)
		return
	}
	c.Set(profileContextKey, profile)
	c.Next()
}

func (h *httpHandler) requireRole(role profiles.Role, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := currentProfile(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, codeAuthenticationRequired, messageAuthenticationRequired)
			return
		}
		if profile.Role != role {
			abortWithError(c, http.StatusForbidden, codeForbidden, message)
			return
		}
		c.Next()
	}
}

func currentProfile(c *gin.Context) (profiles.Profile, bool) {
	value, exists := c.Get(profileContextKey)
	if !exists {
		return profiles.Profile{}, false
	}
	profile, ok := value.(profiles.Profile)
	return profile, ok
}
