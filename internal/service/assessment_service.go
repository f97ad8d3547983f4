package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/monitoring"
)

// AssessmentService arbitrates assessment locks. The lock for a
// (submission, correction round) is the open result row itself; holding
// it means being that row's assessor while completion_date is NULL.
// Acquisition is a single atomic insert against a partial unique index,
// so two tutors can never both hold the lock.
type AssessmentService struct {
	exams   ExamStore
	results ResultStore
	authz   *Authorizer
	audit   Audit
	log     zerolog.Logger

	now func() time.Time
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(exams ExamStore, results ResultStore, authz *Authorizer, audit Audit, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		exams:   exams,
		results: results,
		authz:   authz,
		audit:   audit,
		log:     log.With().Str("service", "assessment").Logger(),
		now:     time.Now,
	}
}

// AcquireForAssessment takes the assessment lock for a submission and
// correction round, creating the open result. Re-entry by the current
// holder returns the existing open result; any other tutor gets a lock
// conflict that does not reveal who holds it.
func (s *AssessmentService) AcquireForAssessment(ctx context.Context, tutorID int64, submissionID uuid.UUID, round int) (*model.Result, error) {
	submission, err := s.results.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExamByExercise(ctx, submission.ExerciseID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, tutorID, exam.CourseID, model.RoleTutor); err != nil {
		return nil, err
	}
	if round < 0 || round >= exam.NumberOfCorrectionRounds {
		return nil, apperr.Validation("CORRECTION_ROUND_OUT_OF_RANGE", "result", "correction_round",
			fmt.Sprintf("correction round %d is outside [0, %d)", round, exam.NumberOfCorrectionRounds))
	}

	// Two attempts: the lock can be released between a failed insert and
	// the holder lookup.
	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.results.TryInsertOpenResult(ctx, submissionID, round, tutorID)
		if err != nil {
			return nil, fmt.Errorf("acquire assessment lock: %w", err)
		}
		if result != nil {
			s.log.Info().Str("submission_id", submissionID.String()).Int("round", round).
				Int64("assessor_id", tutorID).Msg("assessment lock acquired")
			return result, nil
		}

		open, err := s.results.GetOpenResult(ctx, submissionID, round)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue // released in between, try the insert again
			}
			return nil, err
		}
		if open.AssessorID != nil && *open.AssessorID == tutorID {
			return open, nil
		}
		monitoring.AssessmentLockConflicts.Inc()
		return nil, apperr.LockConflict()
	}
	return nil, apperr.Transient(fmt.Errorf("assessment lock for submission %s round %d kept moving", submissionID, round))
}

// SaveAssessment writes feedback and score on an open result. Only the
// current holder may write; instructors may override. submit completes
// the result and releases the lock.
func (s *AssessmentService) SaveAssessment(ctx context.Context, actorID int64, resultID uuid.UUID, req model.SaveAssessmentRequest) (*model.Result, error) {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if !result.Open() {
		return nil, apperr.Conflict("ASSESSMENT_COMPLETED", "result",
			"the assessment is already completed")
	}

	submission, err := s.results.GetSubmission(ctx, result.SubmissionID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExamByExercise(ctx, submission.ExerciseID)
	if err != nil {
		return nil, err
	}
	holder := result.AssessorID != nil && *result.AssessorID == actorID
	if !holder {
		if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
			return nil, err
		}
	}

	var completion *time.Time
	if req.Submit {
		now := s.now()
		completion = &now
	}
	saved, err := s.results.SaveAssessment(ctx, resultID, req.Feedback, req.Score, completion)
	if err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	if req.Submit {
		s.log.Info().Str("result_id", resultID.String()).Int64("actor_id", actorID).
			Msg("assessment completed, lock released")
	}
	return saved, nil
}

// CancelAssessment releases the caller's own lock by deleting the open
// result. Callers that do not hold the lock are rejected.
func (s *AssessmentService) CancelAssessment(ctx context.Context, tutorID int64, submissionID uuid.UUID, round int) error {
	ok, err := s.results.DeleteOpenResult(ctx, submissionID, round, tutorID)
	if err != nil {
		return fmt.Errorf("cancel assessment: %w", err)
	}
	if !ok {
		return apperr.Forbidden("no open assessment held by the caller")
	}
	s.log.Info().Str("submission_id", submissionID.String()).Int("round", round).
		Int64("assessor_id", tutorID).Msg("assessment lock released")
	return nil
}

// DeleteAssessment is the instructor-only hard delete of a completed
// result. Open results must be cancelled by their holder instead.
func (s *AssessmentService) DeleteAssessment(ctx context.Context, actorID int64, resultID uuid.UUID) error {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return err
	}
	submission, err := s.results.GetSubmission(ctx, result.SubmissionID)
	if err != nil {
		return err
	}
	exam, err := s.exams.GetExamByExercise(ctx, submission.ExerciseID)
	if err != nil {
		return err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return err
	}
	if result.Open() {
		return apperr.Conflict("ASSESSMENT_STILL_OPEN", "result",
			"open assessments are cancelled by their holder, not deleted")
	}

	if err := s.results.DeleteResult(ctx, resultID); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, actorID, model.AuditDeleteAssessment, map[string]any{
		"result_id": resultID, "submission_id": result.SubmissionID, "correction_round": result.CorrectionRound,
	}); err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// CheckSubmissionPolicy reports whether another submission of the
// participation would still be counted under the exercise's policy.
func (s *AssessmentService) CheckSubmissionPolicy(ctx context.Context, exerciseID, participationID uuid.UUID) (bool, error) {
	pol, err := s.results.GetSubmissionPolicy(ctx, exerciseID)
	if err != nil {
		return false, err
	}
	if pol == nil || !pol.Active {
		return true, nil
	}
	counted, err := s.results.CountCountedSubmissions(ctx, participationID)
	if err != nil {
		return false, err
	}
	return counted < int64(pol.SubmissionLimit), nil
}
