package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/cvextract"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/reviews"
)

// base64 of a 10 MiB file plus JSON framing
const maxCVRequestBytes = 15 << 20

type profilePayload struct {
	Skills     string `json:"skills" validate:"max=5000"`
	Experience string `json:"experience" validate:"max=5000"`
	Education  string `json:"education" validate:"max=5000"`
}

type suitabilityRequestPayload struct {
	TaskID  string          `json:"taskId" validate:"required,max=190"`
	Profile *profilePayload `json:"profile"`
}

type suitabilityResponsePayload struct {
	AnalysisID  string   `json:"analysis_id"`
	TaskID      string   `json:"task_id"`
	Score       float64  `json:"score"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
	Cached      bool     `json:"cached"`
}

func (h *httpHandler) handleAnalyzeSuitability(c *gin.Context) {
	profile, _ := currentProfile(c)
	var request suitabilityRequestPayload
	if !h.bindJSON(c, suitabilityFailure, &request) {
		return
	}

	serviceRequest := analysis.Request{WorkerID: profile.ID, TaskID: request.TaskID}
	if request.Profile != nil {
		serviceRequest.Profile = &profiles.Signature{
			Skills:     request.Profile.Skills,
			Experience: request.Profile.Experience,
			Education:  request.Profile.Education,
		}
	}

	outcome, err := h.suitability.AnalyzeSuitability(c.Request.Context(), serviceRequest)
	if err != nil {
		h.respondError(c, suitabilityFailure, err)
		return
	}
	respondData(c, suitabilityResponsePayload{
		AnalysisID:  outcome.Record.ID,
		TaskID:      outcome.Record.TaskID,
		Score:       outcome.Result.Score,
		Strengths:   outcome.Result.Strengths,
		Weaknesses:  outcome.Result.Weaknesses,
		Suggestions: outcome.Result.Suggestions,
		Cached:      outcome.CacheHit,
	})
}

type cvRequestPayload struct {
	CVFile   string `json:"cvFile" validate:"required"`
	Filename string `json:"filename" validate:"required,max=255"`
	MIMEType string `json:"mimeType" validate:"max=255"`
}

type profileResponsePayload struct {
	ID                 string `json:"id"`
	Role               string `json:"role"`
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Skills             string `json:"skills"`
	Experience         string `json:"experience"`
	Education          string `json:"education"`
	PhoneNumber        string `json:"phone_number"`
	SubscriptionStatus string `json:"subscription_status"`
	CVFilename         string `json:"cv_filename,omitempty"`
}

type cvResponsePayload struct {
	Success       bool                   `json:"success"`
	ExtractedData profiles.CVFields      `json:"extracted_data"`
	Profile       profileResponsePayload `json:"profile"`
	Message       string                 `json:"message"`
	ObjectKey     string                 `json:"cv_object_key,omitempty"`
}

func (h *httpHandler) handleAnalyzeCV(c *gin.Context) {
	profile, _ := currentProfile(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCVRequestBytes)
	var request cvRequestPayload
	if !h.bindJSON(c, cvFailure, &request) {
		return
	}

	outcome, err := h.cv.AnalyzeCV(c.Request.Context(), cvextract.Request{
		WorkerID:   profile.ID,
		FileBase64: request.CVFile,
		Filename:   request.Filename,
	})
	if err != nil {
		h.respondError(c, cvFailure, err)
		return
	}
	respondData(c, cvResponsePayload{
		Success:       outcome.Success,
		ExtractedData: outcome.ExtractedData,
		Profile:       toProfileResponse(outcome.Profile),
		Message:       outcome.Message,
		ObjectKey:     outcome.ObjectKey,
	})
}

func (h *httpHandler) handleFindBestMatches(c *gin.Context) {
	profile, _ := currentProfile(c)
	suggestion, err := h.matches.FindBestMatches(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, matchesFailure, err)
		return
	}
	respondData(c, suggestion)
}

type applyRequestPayload struct {
	TaskID string `json:"taskId" validate:"required,max=190"`
}

func (h *httpHandler) handleApplyForJob(c *gin.Context) {
	profile, _ := currentProfile(c)
	var request applyRequestPayload
	if !h.bindJSON(c, applyFailure, &request) {
		return
	}
	application, err := h.applications.Apply(c.Request.Context(), profile.ID, request.TaskID)
	if err != nil {
		h.respondError(c, applyFailure, err)
		return
	}
	respondData(c, application)
}

type reviewRequestPayload struct {
	TaskID            string `json:"taskId" validate:"required,max=190"`
	WorkerID          string `json:"workerId" validate:"required,max=190"`
	QualityRating     *int   `json:"qualityRating" validate:"omitempty,min=1,max=5"`
	TimelinessRating  *int   `json:"timelinessRating" validate:"omitempty,min=1,max=5"`
	ReliabilityRating *int   `json:"reliabilityRating" validate:"omitempty,min=1,max=5"`
	OverallRating     int    `json:"overallRating" validate:"required,min=1,max=5"`
	FeedbackText      string `json:"feedbackText" validate:"max=5000"`
}

type reviewResponsePayload struct {
	Review  reviews.Review `json:"review"`
	Message string         `json:"message"`
}

func (h *httpHandler) handleSubmitWorkerReview(c *gin.Context) {
	profile, _ := currentProfile(c)
	var request reviewRequestPayload
	if !h.bindJSON(c, reviewFailure, &request) {
		return
	}
	outcome, err := h.reviews.Submit(c.Request.Context(), profile.ID, reviews.Submission{
		TaskID:            request.TaskID,
		WorkerID:          request.WorkerID,
		QualityRating:     request.QualityRating,
		TimelinessRating:  request.TimelinessRating,
		ReliabilityRating: request.ReliabilityRating,
		OverallRating:     request.OverallRating,
		FeedbackText:      request.FeedbackText,
	})
	if err != nil {
		h.respondError(c, reviewFailure, err)
		return
	}
	message := "Review submitted successfully"
	if outcome.Updated {
		message = "Review updated successfully"
	}
	respondData(c, reviewResponsePayload{Review: outcome.Review, Message: message})
}

func toProfileResponse(profile profiles.Profile) profileResponsePayload {
	return profileResponsePayload{
		ID:                 profile.ID,
		Role:               string(profile.Role),
		Email:              profile.Email,
		FirstName:          profile.FirstName,
		LastName:           profile.LastName,
		Skills:             profile.Skills,
		Experience:         profile.Experience,
		Education:          profile.Education,
		PhoneNumber:        profile.PhoneNumber,
		SubscriptionStatus: profile.SubscriptionStatus,
		CVFilename:         profile.CVFilename,
	}
}
