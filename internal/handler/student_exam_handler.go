package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/validator"
)

// StudentExamHandler handles instructor operations on individual
// student exams, the instructor test-run shortcut and the test exam
// self-service path.
type StudentExamHandler struct {
	generator   *service.GeneratorService
	workingTime *service.WorkingTimeService
	conduction  *service.ConductionService
}

// NewStudentExamHandler creates a new StudentExamHandler.
func NewStudentExamHandler(generator *service.GeneratorService, workingTime *service.WorkingTimeService, conduction *service.ConductionService) *StudentExamHandler {
	return &StudentExamHandler{
		generator:   generator,
		workingTime: workingTime,
		conduction:  conduction,
	}
}

// List godoc
// GET /api/v1/courses/:course_id/exams/:exam_id/student-exams
func (h *StudentExamHandler) List(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentExams, err := h.conduction.ListStudentExams(c.Request.Context(), middleware.UserID(c), examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exams": studentExams})
}

// CreateTestRun godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/test-run
func (h *StudentExamHandler) CreateTestRun(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentExam, err := h.generator.CreateTestRun(c.Request.Context(), middleware.UserID(c), examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"student_exam": studentExam})
}

// CreateForTestExam godoc
// POST /api/v1/courses/:course_id/exams/:exam_id/student-exams/self-service
func (h *StudentExamHandler) CreateForTestExam(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentExam, err := h.generator.CreateForTestExam(c.Request.Context(), middleware.UserID(c), examID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"student_exam": studentExam})
}

// UpdateWorkingTime godoc
// PATCH /api/v1/courses/:course_id/student-exams/:student_exam_id/working-time
func (h *StudentExamHandler) UpdateWorkingTime(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	var req model.UpdateStudentExamWorkingTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	studentExam, err := h.workingTime.ApplyIndividualWorkingTime(c.Request.Context(), middleware.UserID(c), studentExamID, req.WorkingTimeSeconds)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exam": studentExam})
}

// ToggleSubmitted godoc
// PATCH /api/v1/courses/:course_id/student-exams/:student_exam_id/submitted
func (h *StudentExamHandler) ToggleSubmitted(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	var req model.ToggleSubmittedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	studentExam, err := h.conduction.ToggleSubmitted(c.Request.Context(), middleware.UserID(c), studentExamID, req.Submitted)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student_exam": studentExam})
}

// AttendanceCheck godoc
// POST /api/v1/courses/:course_id/student-exams/:student_exam_id/attendance-check
func (h *StudentExamHandler) AttendanceCheck(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	var req model.AttendanceCheckRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.conduction.AttendanceCheck(c.Request.Context(), middleware.UserID(c), studentExamID, req.Message); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "requested"})
}
