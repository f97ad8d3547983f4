package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
)

// Storage ports. The pgx repositories satisfy these; tests substitute
// in-memory implementations.

// ExamStore reads exam metadata and applies exam-wide window updates.
type ExamStore interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetExamWithGroups(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetExamByExercise(ctx context.Context, exerciseID uuid.UUID) (*model.Exam, error)
	ListRegisteredStudents(ctx context.Context, examID uuid.UUID) ([]model.User, error)
	UpdateExamWindow(ctx context.Context, examID uuid.UUID, endDate time.Time, workingTime int) error
}

// StudentExamStore manages student exams, their exercise selections and
// quiz batch assignments.
type StudentExamStore interface {
	InsertStudentExams(ctx context.Context, studentExams []*model.StudentExam) error
	InsertQuizBatchAssignments(ctx context.Context, assignments []model.QuizBatchAssignment) error
	DeleteStudentExamsByExam(ctx context.Context, examID uuid.UUID) (int64, error)
	GetStudentExam(ctx context.Context, id uuid.UUID) (*model.StudentExam, error)
	ListStudentExamsByExam(ctx context.Context, examID uuid.UUID) ([]model.StudentExam, error)
	ListUserIDsWithStudentExam(ctx context.Context, examID uuid.UUID) ([]int64, error)
	RebaseWorkingTimes(ctx context.Context, examID uuid.UUID, deltaSeconds int) error
	UpdateWorkingTimeCAS(ctx context.Context, id uuid.UUID, workingTime int, version int64) (bool, error)
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	SetSubmittedState(ctx context.Context, id uuid.UUID, submitted bool, at *time.Time) error
}

// SessionStore persists exam sessions.
type SessionStore interface {
	InsertSession(ctx context.Context, s *model.ExamSession) error
	ListSessionsByExam(ctx context.Context, examID uuid.UUID) ([]repository.ExamSessionRecord, error)
}

// ResultStore manages assessment results. TryInsertOpenResult must be
// atomic across processes: it returns (nil, nil) when another open
// result already exists for the same submission and round.
type ResultStore interface {
	TryInsertOpenResult(ctx context.Context, submissionID uuid.UUID, round int, assessorID int64) (*model.Result, error)
	GetOpenResult(ctx context.Context, submissionID uuid.UUID, round int) (*model.Result, error)
	GetResult(ctx context.Context, id uuid.UUID) (*model.Result, error)
	SaveAssessment(ctx context.Context, id uuid.UUID, feedback json.RawMessage, score *float64, completionDate *time.Time) (*model.Result, error)
	DeleteOpenResult(ctx context.Context, submissionID uuid.UUID, round int, assessorID int64) (bool, error)
	DeleteResult(ctx context.Context, id uuid.UUID) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	GetSubmissionPolicy(ctx context.Context, exerciseID uuid.UUID) (*model.SubmissionPolicy, error)
	CountCountedSubmissions(ctx context.Context, participationID uuid.UUID) (int64, error)
}

// UserStore resolves per-course roles.
type UserStore interface {
	GetCourseRole(ctx context.Context, userID, courseID int64) (model.Role, error)
}

// Audit records administrative overrides and bulk operations.
type Audit interface {
	Record(ctx context.Context, actorID int64, action model.AuditAction, details any) error
}

// LiveEventType tags messages pushed to students during conduction.
type LiveEventType string

const (
	LiveEventAnnouncement      LiveEventType = "ANNOUNCEMENT"
	LiveEventWorkingTimeUpdate LiveEventType = "WORKING_TIME_UPDATE"
	LiveEventAttendanceCheck   LiveEventType = "ATTENDANCE_CHECK"
)

// LiveEvent is broadcast on an exam's channel. StudentExamID is nil for
// exam-wide events and set for events addressed to one student.
type LiveEvent struct {
	Type             LiveEventType `json:"type"`
	ExamID           uuid.UUID     `json:"exam_id"`
	StudentExamID    *uuid.UUID    `json:"student_exam_id,omitempty"`
	Message          string        `json:"message,omitempty"`
	OldWorkingTime   int           `json:"old_working_time,omitempty"`
	NewWorkingTime   int           `json:"new_working_time,omitempty"`
	CourseWideChange bool          `json:"course_wide_change,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// LiveEvents pushes events to connected exam participants. Deployments
// without a push channel plug in NopLiveEvents.
type LiveEvents interface {
	Publish(ctx context.Context, event LiveEvent) error
}

// Scheduler re-arms time-based triggers after a working time change.
// Deployments without background scheduling plug in NopScheduler.
type Scheduler interface {
	RescheduleExam(ctx context.Context, examID uuid.UUID, lockAt time.Time) error
	RescheduleStudentExam(ctx context.Context, studentExamID uuid.UUID, lockAt time.Time) error
}

// GenerationLocker serializes whole-exam generation runs. release must
// always be called, also on error paths.
type GenerationLocker interface {
	AcquireGenerationLock(ctx context.Context, examID uuid.UUID) (release func(), err error)
}

// NopLiveEvents drops all events.
type NopLiveEvents struct{}

func (NopLiveEvents) Publish(context.Context, LiveEvent) error { return nil }

// NopScheduler ignores all reschedule requests.
type NopScheduler struct{}

func (NopScheduler) RescheduleExam(context.Context, uuid.UUID, time.Time) error { return nil }

func (NopScheduler) RescheduleStudentExam(context.Context, uuid.UUID, time.Time) error { return nil }
