package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/policy"
)

// WorkingTimeService coordinates exam-wide and individual working time
// changes. Exam-wide changes rebase every individual working time by
// the same delta, so extensions granted to single students survive a
// later exam-wide shift.
type WorkingTimeService struct {
	exams        ExamStore
	studentExams StudentExamStore
	authz        *Authorizer
	audit        Audit
	live         LiveEvents
	sched        Scheduler
	log          zerolog.Logger

	now func() time.Time
}

// NewWorkingTimeService creates a new WorkingTimeService.
func NewWorkingTimeService(exams ExamStore, studentExams StudentExamStore, authz *Authorizer, audit Audit, live LiveEvents, sched Scheduler, log zerolog.Logger) *WorkingTimeService {
	return &WorkingTimeService{
		exams:        exams,
		studentExams: studentExams,
		authz:        authz,
		audit:        audit,
		live:         live,
		sched:        sched,
		log:          log.With().Str("service", "working_time").Logger(),
		now:          time.Now,
	}
}

// ApplyExamDelta shifts a real exam's end date and working time by
// deltaSeconds and rebases all non-test-run student exams additively.
func (s *WorkingTimeService) ApplyExamDelta(ctx context.Context, actorID int64, examID uuid.UUID, deltaSeconds int) (*model.Exam, error) {
	if deltaSeconds == 0 {
		return nil, apperr.Validation("WORKING_TIME_DELTA_ZERO", "exam", "delta_seconds",
			"working time delta must not be zero")
	}

	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	if exam.IsTestExam {
		return nil, apperr.Conflict("TEST_EXAM_SHARED_WINDOW", "exam",
			"test exams have per-student windows, not a shared one")
	}

	oldWorkingTime := exam.WorkingTime
	exam.EndDate = exam.EndDate.Add(time.Duration(deltaSeconds) * time.Second)
	exam.WorkingTime += deltaSeconds
	if err := policy.ValidateDates(exam); err != nil {
		return nil, err
	}
	// Real exam working time is derived from the window, so a stored
	// value that drifted from end-start heals here.
	wt, err := policy.NormalizeWorkingTime(exam)
	if err != nil {
		return nil, err
	}
	exam.WorkingTime = wt

	if err := s.exams.UpdateExamWindow(ctx, examID, exam.EndDate, exam.WorkingTime); err != nil {
		return nil, fmt.Errorf("update exam window: %w", err)
	}
	if err := s.studentExams.RebaseWorkingTimes(ctx, examID, deltaSeconds); err != nil {
		return nil, fmt.Errorf("rebase student exam working times: %w", err)
	}

	// Side effects are scoped to visible exams: nobody is conducting an
	// exam before its visibility date, so neither the live event nor the
	// lock reschedule applies yet.
	now := s.now()
	if exam.IsVisibleAt(now) {
		event := LiveEvent{
			Type:             LiveEventWorkingTimeUpdate,
			ExamID:           examID,
			OldWorkingTime:   oldWorkingTime,
			NewWorkingTime:   exam.WorkingTime,
			CourseWideChange: true,
			CreatedAt:        now,
		}
		if err := s.live.Publish(ctx, event); err != nil {
			s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("publish working time event failed")
		}
		if err := s.rescheduleExam(ctx, exam, now); err != nil {
			return nil, err
		}
	}

	s.log.Info().Str("exam_id", examID.String()).Int("delta_seconds", deltaSeconds).
		Msg("exam working time shifted")

	if err := s.audit.Record(ctx, actorID, model.AuditExamWorkingTime, map[string]any{
		"exam_id": examID, "delta_seconds": deltaSeconds, "new_working_time": exam.WorkingTime,
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return exam, nil
}

// ApplyIndividualWorkingTime sets an absolute working time for one
// student exam, guarded by the optimistic version. A lost race is
// retried once with fresh state before giving up.
func (s *WorkingTimeService) ApplyIndividualWorkingTime(ctx context.Context, actorID int64, studentExamID uuid.UUID, seconds int) (*model.StudentExam, error) {
	if seconds <= 0 {
		return nil, apperr.Validation("WORKING_TIME_NOT_POSITIVE", "student_exam", "working_time_seconds",
			"individual working time must be positive")
	}

	se, err := s.studentExams.GetStudentExam(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExam(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}

	now := s.now()
	if se.Started && se.StartedDate != nil {
		used := int(now.Sub(*se.StartedDate) / time.Second)
		if seconds < used {
			return nil, apperr.Validation("WORKING_TIME_BELOW_USED", "student_exam", "working_time_seconds",
				"new working time is less than the time already used")
		}
	}

	oldWorkingTime := se.WorkingTime
	ok, err := s.studentExams.UpdateWorkingTimeCAS(ctx, studentExamID, seconds, se.Version)
	if err != nil {
		return nil, fmt.Errorf("update working time: %w", err)
	}
	if !ok {
		se, err = s.studentExams.GetStudentExam(ctx, studentExamID)
		if err != nil {
			return nil, err
		}
		oldWorkingTime = se.WorkingTime
		ok, err = s.studentExams.UpdateWorkingTimeCAS(ctx, studentExamID, seconds, se.Version)
		if err != nil {
			return nil, fmt.Errorf("update working time: %w", err)
		}
		if !ok {
			return nil, apperr.Transient(fmt.Errorf("student exam %s version moved twice", studentExamID))
		}
	}
	se.WorkingTime = seconds
	se.Version++

	if !se.TestRun && exam.IsVisibleAt(now) {
		event := LiveEvent{
			Type:           LiveEventWorkingTimeUpdate,
			ExamID:         exam.ID,
			StudentExamID:  &se.ID,
			OldWorkingTime: oldWorkingTime,
			NewWorkingTime: seconds,
			CreatedAt:      now,
		}
		if err := s.live.Publish(ctx, event); err != nil {
			s.log.Error().Err(err).Str("student_exam_id", studentExamID.String()).
				Msg("publish working time event failed")
		}
		newEnd := se.IndividualEndDateWithGrace(exam.StartDate, exam.GracePeriod)
		if newEnd.After(now) {
			if err := s.sched.RescheduleStudentExam(ctx, se.ID, newEnd); err != nil {
				return nil, fmt.Errorf("reschedule student exam: %w", err)
			}
		}
	}

	s.log.Info().Str("student_exam_id", studentExamID.String()).
		Int("old_seconds", oldWorkingTime).Int("new_seconds", seconds).
		Msg("individual working time changed")

	if err := s.audit.Record(ctx, actorID, model.AuditIndividualTime, map[string]any{
		"student_exam_id": studentExamID, "old_seconds": oldWorkingTime, "new_seconds": seconds,
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return se, nil
}

// rescheduleExam re-arms the exam-level lock trigger at the latest
// individual end date, skipping exams whose conduction already ended.
func (s *WorkingTimeService) rescheduleExam(ctx context.Context, exam *model.Exam, now time.Time) error {
	studentExams, err := s.studentExams.ListStudentExamsByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list student exams: %w", err)
	}
	var latest time.Time
	for i := range studentExams {
		if studentExams[i].TestRun {
			continue
		}
		end := studentExams[i].IndividualEndDateWithGrace(exam.StartDate, exam.GracePeriod)
		if end.After(latest) {
			latest = end
		}
	}
	if latest.IsZero() || !latest.After(now) {
		return nil
	}
	if err := s.sched.RescheduleExam(ctx, exam.ID, latest); err != nil {
		return fmt.Errorf("reschedule exam: %w", err)
	}
	return nil
}
