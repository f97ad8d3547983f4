package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/validator"
)

// ExamHandler handles instructor-side exam operations: generation,
// exam-wide working time, announcements and the suspicious-session
// analysis.
type ExamHandler struct {
	generator   *service.GeneratorService
	workingTime *service.WorkingTimeService
	conduction  *service.ConductionService
	monitor     *service.SessionMonitorService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(generator *service.GeneratorService, workingTime *service.WorkingTimeService, conduction *service.ConductionService, monitor *service.SessionMonitorService) *ExamHandler {
	return &ExamHandler{
		generator:   generator,
		workingTime: workingTime,
		conduction:  conduction,
		monitor:     monitor,
	}
}

// GenerateStudentExams godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/student-exams/generate
func (h *ExamHandler) GenerateStudentExams(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentExams, err := h.generator.Generate(c.Request.Context(), middleware.UserID(c), examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exams": studentExams})
}

// GenerateMissingStudentExams godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/student-exams/generate-missing
func (h *ExamHandler) GenerateMissingStudentExams(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentExams, err := h.generator.GenerateMissing(c.Request.Context(), middleware.UserID(c), examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exams": studentExams})
}

// UpdateWorkingTime godoc
// PATCH /api/v1/courses/:course_id/exams/:exam_id/working-time
func (h *ExamHandler) UpdateWorkingTime(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	var req model.UpdateExamWorkingTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	exam, err := h.workingTime.ApplyExamDelta(c.Request.Context(), middleware.UserID(c), examID, req.DeltaSeconds)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// Announce godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/announcements
func (h *ExamHandler) Announce(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	var req model.AnnouncementRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.conduction.Announce(c.Request.Context(), middleware.UserID(c), examID, req.Message); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "announced"})
}

// SuspiciousSessionsRequest selects which checks to run.
type SuspiciousSessionsRequest struct {
	SameIPDifferentStudentExams          bool    `json:"same_ip_different_student_exams"`
	SameFingerprintDifferentStudentExams bool    `json:"same_fingerprint_different_student_exams"`
	DifferentIPsSameStudentExam          bool    `json:"different_ips_same_student_exam"`
	DifferentFingerprintsSameStudentExam bool    `json:"different_fingerprints_same_student_exam"`
	IPOutsideRange                       bool    `json:"ip_outside_range"`
	IPSubnet                             *string `json:"ip_subnet,omitempty"`
}

// AnalyzeSuspiciousSessions godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/suspicious-sessions
func (h *ExamHandler) AnalyzeSuspiciousSessions(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	var req SuspiciousSessionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	opts := model.AnalysisOptions{
		SameIPDifferentStudentExams:          req.SameIPDifferentStudentExams,
		SameFingerprintDifferentStudentExams: req.SameFingerprintDifferentStudentExams,
		DifferentIPsSameStudentExam:          req.DifferentIPsSameStudentExam,
		DifferentFingerprintsSameStudentExam: req.DifferentFingerprintsSameStudentExam,
		IPOutsideRange:                       req.IPOutsideRange,
	}
	findings, err := h.monitor.DetectSuspiciousSessions(c.Request.Context(), middleware.UserID(c), examID, opts, req.IPSubnet)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"findings": findings})
}

// parseUUIDParam parses a UUID route param, failing the request when
// malformed.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
