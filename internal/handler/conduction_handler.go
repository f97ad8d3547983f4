package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/validator"
)

// ConductionHandler handles the student-facing conduction surface:
// starting, resuming and submitting a student exam.
type ConductionHandler struct {
	conduction *service.ConductionService
}

// NewConductionHandler creates a new ConductionHandler.
func NewConductionHandler(conduction *service.ConductionService) *ConductionHandler {
	return &ConductionHandler{conduction: conduction}
}

// StartConductionRequest carries the client fingerprint captured by the
// exam client on start or resume.
type StartConductionRequest struct {
	BrowserFingerprint *string `json:"browser_fingerprint" binding:"omitempty,max=255"`
	InstanceID         *string `json:"instance_id" binding:"omitempty,max=255"`
}

// Start godoc
// POST /api/v1/courses/:course_id/student-exams/:student_exam_id/conduction/start
func (h *ConductionHandler) Start(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	var req StartConductionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	meta := service.SessionMeta{
		BrowserFingerprint: req.BrowserFingerprint,
		InstanceID:         req.InstanceID,
	}
	if ip := c.ClientIP(); ip != "" {
		meta.IPAddress = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		meta.UserAgent = &ua
	}

	studentExam, session, err := h.conduction.StartConduction(c.Request.Context(), middleware.UserID(c), studentExamID, meta)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"student_exam":  studentExam,
		"session_token": session.SessionToken,
	})
}

// Submit godoc
// POST /api/v1/courses/:course_id/student-exams/:student_exam_id/conduction/submit
func (h *ConductionHandler) Submit(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	studentExam, err := h.conduction.Submit(c.Request.Context(), middleware.UserID(c), studentExamID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exam": studentExam})
}

// GetOwn godoc
// GET /api/v1/courses/:course_id/student-exams/:student_exam_id
func (h *ConductionHandler) GetOwn(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	studentExam, err := h.conduction.GetOwnStudentExam(c.Request.Context(), middleware.UserID(c), studentExamID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exam": studentExam})
}
