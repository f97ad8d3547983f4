package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/validator"
)

// AssessmentHandler handles assessment lock arbitration: acquiring the
// lock on a submission, saving or completing feedback, cancelling and
// deleting assessments.
type AssessmentHandler struct {
	assessment *service.AssessmentService
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessment *service.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessment: assessment}
}

// Acquire godoc
// POST /api/v1/courses/:course_id/submissions/:submission_id/assessment
func (h *AssessmentHandler) Acquire(c *gin.Context) {
	submissionID, ok := parseUUIDParam(c, "submission_id")
	if !ok {
		return
	}
	round, ok := parseCorrectionRound(c)
	if !ok {
		return
	}
	result, err := h.assessment.AcquireForAssessment(c.Request.Context(), middleware.UserID(c), submissionID, round)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Save godoc
// PUT /api/v1/courses/:course_id/results/:result_id/assessment
func (h *AssessmentHandler) Save(c *gin.Context) {
	resultID, ok := parseUUIDParam(c, "result_id")
	if !ok {
		return
	}
	var req model.SaveAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	result, err := h.assessment.SaveAssessment(c.Request.Context(), middleware.UserID(c), resultID, req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Cancel godoc
// DELETE /api/v1/courses/:course_id/submissions/:submission_id/assessment
func (h *AssessmentHandler) Cancel(c *gin.Context) {
	submissionID, ok := parseUUIDParam(c, "submission_id")
	if !ok {
		return
	}
	round, ok := parseCorrectionRound(c)
	if !ok {
		return
	}
	if err := h.assessment.CancelAssessment(c.Request.Context(), middleware.UserID(c), submissionID, round); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "cancelled"})
}

// Delete godoc
// DELETE /api/v1/courses/:course_id/results/:result_id
func (h *AssessmentHandler) Delete(c *gin.Context) {
	resultID, ok := parseUUIDParam(c, "result_id")
	if !ok {
		return
	}
	if err := h.assessment.DeleteAssessment(c.Request.Context(), middleware.UserID(c), resultID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}

// parseCorrectionRound reads the correction_round query parameter,
// defaulting to the first round.
func parseCorrectionRound(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("correction_round", "0")
	round, err := strconv.Atoi(raw)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return 0, false
	}
	return round, true
}
