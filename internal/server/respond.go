package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/applications"
	"github.com/kormo-connect/backend/internal/cvextract"
	"github.com/kormo-connect/backend/internal/matches"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/reviews"
	"github.com/kormo-connect/backend/internal/serviceerr"
	"github.com/kormo-connect/backend/internal/tasks"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest         = "INVALID_REQUEST"
	codeInvalidFile            = "INVALID_FILE"
	codeIncompleteProfile      = "INCOMPLETE_PROFILE"
	codeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	codeForbidden              = "FORBIDDEN"
	codeTaskNotFound           = "TASK_NOT_FOUND"
	codeProfileNotFound        = "PROFILE_NOT_FOUND"
	codeAnalysisRequired       = "ANALYSIS_REQUIRED"
	codeAlreadyApplied         = "ALREADY_APPLIED"
	codeTaskNotOpen            = "TASK_NOT_OPEN"
	codeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	codeQuotaExhausted         = "QUOTA_EXHAUSTED"
	codeAnalysisFailed         = "ANALYSIS_FAILED"
	codeCVAnalysisFailed       = "CV_ANALYSIS_FAILED"
	codeFindMatchesFailed      = "FIND_MATCHES_FAILED"
	codeApplyFailed            = "APPLICATION_FAILED"
	codeReviewFailed           = "REVIEW_SUBMISSION_FAILED"
	codePersistenceFailed      = "PERSISTENCE_FAILED"

	messageAuthenticationRequired = "Authentication required"
	messageForbidden              = "Only professionals can use this feature"
	messageEmployersOnly          = "Only employers can review workers"
	messageNotTaskOwner           = "You can only review workers on your own jobs"
	messageInvalidRequest         = "Invalid request body"
	messageTaskNotFound           = "Job not found"
	messageProfileNotFound        = "Profile not found"
	messageIncompleteProfile      = "Please add your skills, experience or education to your profile first."
	messageAnalysisRequired       = "No analysis found for this job. Please analyze the job first."
	messageAlreadyApplied         = "You have already applied for this job"
	messageTaskNotOpen            = "This job is not accepting applications"
	messageQuotaExhausted         = "The AI service is temporarily unavailable. Please try again later."
	messagePersistenceFailed      = "We could not save your request. Please try again."
	messageRateLimitTemplate      = "Rate limit exceeded. Please try again in %d seconds."
)

type errorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type dataEnvelope struct {
	Data interface{} `json:"data"`
}

func respondData(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, dataEnvelope{Data: payload})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// failure describes how one endpoint reports errors its services return.
type failure struct {
	route       string
	invalidCode string
	failCode    string
	failMessage string
}

var (
	suitabilityFailure = failure{route: "analyze-suitability", invalidCode: codeInvalidRequest, failCode: codeAnalysisFailed, failMessage: "Failed to analyze job suitability. Please try again."}
	cvFailure          = failure{route: "analyze-cv", invalidCode: codeInvalidFile, failCode: codeCVAnalysisFailed, failMessage: "Failed to analyze your CV. Please try again."}
	matchesFailure     = failure{route: "find-best-matches", invalidCode: codeInvalidRequest, failCode: codeFindMatchesFailed, failMessage: "Failed to find matching jobs. Please try again."}
	applyFailure       = failure{route: "apply-for-job", invalidCode: codeInvalidRequest, failCode: codeApplyFailed, failMessage: "Failed to submit your application. Please try again."}
	reviewFailure      = failure{route: "submit-worker-review", invalidCode: codeInvalidRequest, failCode: codeReviewFailed, failMessage: "Failed to submit the review. Please try again."}
)

func (h *httpHandler) respondError(c *gin.Context, f failure, err error) {
	var denied *quota.DeniedError
	if errors.As(err, &denied) {
		seconds := denied.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope{Error: errorBody{
			Code:              codeRateLimitExceeded,
			Message:           fmt.Sprintf(messageRateLimitTemplate, seconds),
			RetryAfterSeconds: seconds,
		}})
		return
	}

	status, code, message := classify(f, err)
	fields := []zap.Field{zap.String("route", f.route), zap.String("code", code), zap.Error(err)}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Warn("request failed", fields...)
	default:
		h.logger.Debug("request rejected", fields...)
	}
	abortWithError(c, status, code, message)
}

func classify(f failure, err error) (int, string, string) {
	switch {
	case errors.Is(err, serviceerr.ErrInvalidInput):
		message := serviceerr.Message(err)
		if message == "" {
			message = messageInvalidRequest
		}
		return http.StatusBadRequest, f.invalidCode, message
	case errors.Is(err, matches.ErrIncompleteProfile):
		return http.StatusBadRequest, codeIncompleteProfile, messageIncompleteProfile
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound, codeTaskNotFound, messageTaskNotFound
	case errors.Is(err, profiles.ErrProfileNotFound):
		return http.StatusNotFound, codeProfileNotFound, messageProfileNotFound
	case errors.Is(err, reviews.ErrNotTaskOwner):
		return http.StatusForbidden, codeForbidden, messageNotTaskOwner
	case errors.Is(err, applications.ErrAnalysisRequired):
		return http.StatusConflict, codeAnalysisRequired, messageAnalysisRequired
	case errors.Is(err, applications.ErrAlreadyApplied):
		return http.StatusConflict, codeAlreadyApplied, messageAlreadyApplied
	case errors.Is(err, applications.ErrTaskNotOpen):
		return http.StatusConflict, codeTaskNotOpen, messageTaskNotOpen
	case errors.Is(err, ai.ErrQuotaExhausted), errors.Is(err, ai.ErrRateLimited):
		return http.StatusServiceUnavailable, codeQuotaExhausted, messageQuotaExhausted
	case errors.Is(err, serviceerr.ErrPersistence):
		return http.StatusInternalServerError, codePersistenceFailed, messagePersistenceFailed
	case errors.Is(err, ai.ErrUpstream),
		errors.Is(err, ai.ErrEmptyResponse),
		errors.Is(err, cvextract.ErrUnparseableReply),
		errors.Is(err, matches.ErrUnparseableReply):
		return http.StatusBadGateway, f.failCode, f.failMessage
	default:
		return http.StatusInternalServerError, f.failCode, f.failMessage
	}
}

func newRequestValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// bindJSON decodes and validates the body, writing the 400 response itself on failure.
func (h *httpHandler) bindJSON(c *gin.Context, f failure, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Debug("request body rejected", zap.String("route", f.route), zap.Error(err))
		abortWithError(c, http.StatusBadRequest, f.invalidCode, messageInvalidRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		abortWithError(c, http.StatusBadRequest, f.invalidCode, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return messageInvalidRequest
	}
	first := validationErrors[0]
	switch first.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", first.Field())
	case "max":
		if first.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", first.Field(), first.Param())
		}
		return fmt.Sprintf("%s must be at most %s", first.Field(), first.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", first.Field(), first.Param())
	default:
		return fmt.Sprintf("%s is invalid", first.Field())
	}
}
