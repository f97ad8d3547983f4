package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
)

// ConductionService is the student-facing facade over a running exam:
// starting, submitting, live announcements and the instructor override
// of the submitted state.
type ConductionService struct {
	cfg          *config.Config
	exams        ExamStore
	studentExams StudentExamStore
	monitor      *SessionMonitorService
	authz        *Authorizer
	audit        Audit
	live         LiveEvents
	log          zerolog.Logger

	now func() time.Time
}

// NewConductionService creates a new ConductionService.
func NewConductionService(cfg *config.Config, exams ExamStore, studentExams StudentExamStore, monitor *SessionMonitorService, authz *Authorizer, audit Audit, live LiveEvents, log zerolog.Logger) *ConductionService {
	return &ConductionService{
		cfg:          cfg,
		exams:        exams,
		studentExams: studentExams,
		monitor:      monitor,
		authz:        authz,
		audit:        audit,
		live:         live,
		log:          log.With().Str("service", "conduction").Logger(),
		now:          time.Now,
	}
}

// StartConduction hands the student their exam and records a session.
// The first call marks the student exam as started; later calls resume
// without touching the original start date. Only the owner may start,
// and only once the start window has opened.
func (c *ConductionService) StartConduction(ctx context.Context, userID int64, studentExamID uuid.UUID, meta SessionMeta) (*model.StudentExam, *model.ExamSession, error) {
	se, err := c.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return nil, nil, err
	}
	if se.UserID != userID {
		return nil, nil, apperr.Forbidden("student exam belongs to another user")
	}
	exam, err := c.exams.GetExam(ctx, se.ExamID)
	if err != nil {
		return nil, nil, err
	}

	now := c.now()
	if now.Add(c.cfg.StartWaitWindow).Before(exam.StartDate) {
		return nil, nil, apperr.Conflict("CONDUCTION_NOT_OPEN", "student_exam",
			"the exam cannot be started yet")
	}

	if !se.Started {
		if err := c.studentExams.MarkStarted(ctx, studentExamID, now); err != nil {
			return nil, nil, fmt.Errorf("mark started: %w", err)
		}
		se.Started = true
		se.StartedDate = &now
		c.log.Info().Str("student_exam_id", studentExamID.String()).Int64("user_id", userID).
			Msg("conduction started")
	}

	session, err := c.monitor.RecordSession(ctx, studentExamID, meta)
	if err != nil {
		return nil, nil, err
	}
	return se, session, nil
}

// Submit hands in a student exam. Submitting twice is a no-op success;
// submitting outside [exam start, individual end + grace period] is
// rejected.
func (c *ConductionService) Submit(ctx context.Context, userID int64, studentExamID uuid.UUID) (*model.StudentExam, error) {
	se, err := c.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	if se.UserID != userID {
		return nil, apperr.Forbidden("student exam belongs to another user")
	}
	if se.Submitted {
		return se, nil
	}
	exam, err := c.exams.GetExam(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if now.Before(exam.StartDate) {
		return nil, apperr.Conflict("SUBMIT_BEFORE_START", "student_exam",
			"the exam has not started yet")
	}
	if now.After(se.IndividualEndDateWithGrace(exam.StartDate, exam.GracePeriod)) {
		return nil, apperr.Conflict("SUBMIT_AFTER_DEADLINE", "student_exam",
			"the individual working time including grace period is over")
	}

	flipped, err := c.studentExams.MarkSubmitted(ctx, studentExamID, now)
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !flipped {
		// Lost the race against a concurrent submit of the same exam.
		// The outcome the student wanted already holds.
		return c.studentExams.GetStudentExam(ctx, studentExamID)
	}
	se.Submitted = true
	se.SubmissionDate = &now
	c.log.Info().Str("student_exam_id", studentExamID.String()).Int64("user_id", userID).
		Msg("student exam submitted")
	return se, nil
}

// ToggleSubmitted is the instructor override of the submitted state.
// Either direction is only allowed once the individual conduction
// including grace period is over; the override always leaves an audit
// trail.
func (c *ConductionService) ToggleSubmitted(ctx context.Context, actorID int64, studentExamID uuid.UUID, submitted bool) (*model.StudentExam, error) {
	se, err := c.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	exam, err := c.exams.GetExam(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}
	if err := c.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	if se.Submitted == submitted {
		return se, nil
	}

	now := c.now()
	if now.Before(se.IndividualEndDateWithGrace(exam.StartDate, exam.GracePeriod)) {
		return nil, apperr.Conflict("CONDUCTION_STILL_RUNNING", "student_exam",
			"cannot override the submitted state while the individual conduction is still running")
	}

	var submissionDate *time.Time
	if submitted {
		submissionDate = &now
	}
	if err := c.studentExams.SetSubmittedState(ctx, studentExamID, submitted, submissionDate); err != nil {
		return nil, err
	}
	se.Submitted = submitted
	se.SubmissionDate = submissionDate

	if err := c.audit.Record(ctx, actorID, model.AuditToggleSubmitted, map[string]any{
		"student_exam_id": studentExamID, "submitted": submitted,
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return se, nil
}

// GetOwnStudentExam returns a student exam to its owner.
func (c *ConductionService) GetOwnStudentExam(ctx context.Context, userID int64, studentExamID uuid.UUID) (*model.StudentExam, error) {
	se, err := c.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	if se.UserID != userID {
		return nil, apperr.Forbidden("student exam belongs to another user")
	}
	return se, nil
}

// ListStudentExams returns all student exams of an exam for instructors.
func (c *ConductionService) ListStudentExams(ctx context.Context, actorID int64, examID uuid.UUID) ([]model.StudentExam, error) {
	exam, err := c.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := c.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	return c.studentExams.ListStudentExamsByExam(ctx, examID)
}

// Announce broadcasts an instructor message to every participant of a
// visible exam.
func (c *ConductionService) Announce(ctx context.Context, actorID int64, examID uuid.UUID, message string) error {
	exam, err := c.exams.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	if err := c.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return err
	}
	now := c.now()
	if !exam.IsVisibleAt(now) {
		return apperr.Conflict("EXAM_NOT_VISIBLE", "exam",
			"announcements require a visible exam")
	}
	return c.live.Publish(ctx, LiveEvent{
		Type:      LiveEventAnnouncement,
		ExamID:    examID,
		Message:   message,
		CreatedAt: now,
	})
}

// AttendanceCheck asks one student to confirm their presence.
func (c *ConductionService) AttendanceCheck(ctx context.Context, actorID int64, studentExamID uuid.UUID, message string) error {
	se, err := c.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return err
	}
	exam, err := c.exams.GetExam(ctx, se.ExamID)
	if err != nil {
		return err
	}
	if err := c.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return err
	}
	return c.live.Publish(ctx, LiveEvent{
		Type:          LiveEventAttendanceCheck,
		ExamID:        exam.ID,
		StudentExamID: &se.ID,
		Message:       message,
		CreatedAt:     c.now(),
	})
}
