package service

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/monitoring"
	"github.com/examhall/examhall-backend/internal/policy"
)

// GeneratorService materializes student exams from an exam's exercise
// groups. Each student receives exactly one exercise per group, chosen
// uniformly at random, in group position order.
type GeneratorService struct {
	exams        ExamStore
	studentExams StudentExamStore
	locker       GenerationLocker
	authz        *Authorizer
	audit        Audit
	log          zerolog.Logger

	pickIndex func(n int) int
	quizSeed  func() int64
}

// NewGeneratorService creates a new GeneratorService.
func NewGeneratorService(exams ExamStore, studentExams StudentExamStore, locker GenerationLocker, authz *Authorizer, audit Audit, log zerolog.Logger) *GeneratorService {
	return &GeneratorService{
		exams:        exams,
		studentExams: studentExams,
		locker:       locker,
		authz:        authz,
		audit:        audit,
		log:          log.With().Str("service", "generator").Logger(),
		pickIndex:    rand.Intn,
		quizSeed:     rand.Int63,
	}
}

// Generate regenerates the student exams of a real exam from scratch.
// Existing student exams, their exercise selections, sessions and quiz
// batch assignments are deleted first, so a re-run after a roster or
// exercise change produces a consistent set. Fails closed before any
// write when an exercise group is empty.
func (s *GeneratorService) Generate(ctx context.Context, actorID int64, examID uuid.UUID) ([]*model.StudentExam, error) {
	exam, err := s.prepare(ctx, actorID, examID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.AcquireGenerationLock(ctx, examID)
	if err != nil {
		return nil, err
	}
	defer release()

	students, err := s.exams.ListRegisteredStudents(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list registered students: %w", err)
	}

	deleted, err := s.studentExams.DeleteStudentExamsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("delete previous student exams: %w", err)
	}

	generated, err := s.materialize(ctx, exam, students)
	if err != nil {
		monitoring.GenerationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}
	monitoring.GenerationRuns.WithLabelValues("success").Inc()

	s.log.Info().Str("exam_id", examID.String()).
		Int("generated", len(generated)).Int64("deleted", deleted).
		Msg("student exams generated")

	if err := s.audit.Record(ctx, actorID, model.AuditGenerateStudentExams, map[string]any{
		"exam_id": examID, "generated": len(generated), "deleted": deleted,
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return generated, nil
}

// GenerateMissing creates student exams only for registered students
// that do not have one yet. Existing student exams are untouched.
func (s *GeneratorService) GenerateMissing(ctx context.Context, actorID int64, examID uuid.UUID) ([]*model.StudentExam, error) {
	exam, err := s.prepare(ctx, actorID, examID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.AcquireGenerationLock(ctx, examID)
	if err != nil {
		return nil, err
	}
	defer release()

	students, err := s.exams.ListRegisteredStudents(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list registered students: %w", err)
	}
	existing, err := s.studentExams.ListUserIDsWithStudentExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list covered students: %w", err)
	}
	covered := make(map[int64]bool, len(existing))
	for _, id := range existing {
		covered[id] = true
	}
	var missing []model.User
	for _, u := range students {
		if !covered[u.ID] {
			missing = append(missing, u)
		}
	}

	generated, err := s.materialize(ctx, exam, missing)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("exam_id", examID.String()).
		Int("generated", len(generated)).
		Msg("missing student exams generated")

	if err := s.audit.Record(ctx, actorID, model.AuditGenerateStudentExams, map[string]any{
		"exam_id": examID, "generated": len(generated), "missing_only": true,
	}); err != nil {
		return nil, fmt.Errorf("record audit event: %w", err)
	}
	return generated, nil
}

// CreateTestRun builds one test-run student exam for the calling
// instructor on demand. Test runs never take part in bulk generation
// or suspicious-session analysis, so the dry run stays invisible to
// grading and monitoring.
func (s *GeneratorService) CreateTestRun(ctx context.Context, actorID int64, examID uuid.UUID) (*model.StudentExam, error) {
	exam, err := s.exams.GetExamWithGroups(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	if err := validateGroups(exam); err != nil {
		return nil, err
	}

	se, quizIDs := s.buildStudentExam(exam, actorID, true)
	if err := s.studentExams.InsertStudentExams(ctx, []*model.StudentExam{se}); err != nil {
		return nil, fmt.Errorf("insert test run: %w", err)
	}
	if err := s.studentExams.InsertQuizBatchAssignments(ctx, s.assignSeeds(se, quizIDs)); err != nil {
		return nil, fmt.Errorf("insert quiz batch assignments: %w", err)
	}
	return se, nil
}

// CreateForTestExam creates the caller's own student exam for a test
// exam at first access. Later calls return the existing one, so the
// endpoint is safe to retry. Real exams only receive student exams
// through bulk generation.
func (s *GeneratorService) CreateForTestExam(ctx context.Context, userID int64, examID uuid.UUID) (*model.StudentExam, error) {
	exam, err := s.exams.GetExamWithGroups(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsTestExam {
		return nil, apperr.Conflict("NOT_A_TEST_EXAM", "exam",
			"real exams receive student exams through bulk generation")
	}
	if err := s.authz.RequireRole(ctx, userID, exam.CourseID, model.RoleStudent); err != nil {
		return nil, err
	}
	if err := validateGroups(exam); err != nil {
		return nil, err
	}

	existing, err := s.studentExams.ListStudentExamsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list student exams: %w", err)
	}
	for i := range existing {
		if existing[i].UserID == userID && !existing[i].TestRun {
			return &existing[i], nil
		}
	}

	se, quizIDs := s.buildStudentExam(exam, userID, false)
	if err := s.studentExams.InsertStudentExams(ctx, []*model.StudentExam{se}); err != nil {
		return nil, fmt.Errorf("insert student exam: %w", err)
	}
	if err := s.studentExams.InsertQuizBatchAssignments(ctx, s.assignSeeds(se, quizIDs)); err != nil {
		return nil, fmt.Errorf("insert quiz batch assignments: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int64("user_id", userID).
		Msg("test exam student exam created at first access")
	return se, nil
}

func (s *GeneratorService) prepare(ctx context.Context, actorID int64, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetExamWithGroups(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	if exam.IsTestExam {
		return nil, apperr.Conflict("TEST_EXAM_BULK_GENERATION", "exam",
			"test exams create student exams on demand, not in bulk")
	}
	if err := policy.ValidateCorrectionRounds(exam); err != nil {
		return nil, err
	}
	if err := validateGroups(exam); err != nil {
		return nil, err
	}
	return exam, nil
}

func validateGroups(exam *model.Exam) error {
	for _, g := range exam.ExerciseGroups {
		if len(g.Exercises) == 0 {
			return apperr.Validation("EXERCISE_GROUP_EMPTY", "exercise_group", "exercises",
				fmt.Sprintf("exercise group %q has no exercises", g.Title))
		}
	}
	return nil
}

func (s *GeneratorService) materialize(ctx context.Context, exam *model.Exam, students []model.User) ([]*model.StudentExam, error) {
	studentExams := make([]*model.StudentExam, 0, len(students))
	quizByStudent := make([][]uuid.UUID, 0, len(students))
	for _, u := range students {
		se, quizIDs := s.buildStudentExam(exam, u.ID, false)
		studentExams = append(studentExams, se)
		quizByStudent = append(quizByStudent, quizIDs)
	}
	if err := s.studentExams.InsertStudentExams(ctx, studentExams); err != nil {
		return nil, fmt.Errorf("insert student exams: %w", err)
	}
	// Seeds are pinned now so quiz question order is independent of when
	// the student starts.
	var assignments []model.QuizBatchAssignment
	for i, se := range studentExams {
		assignments = append(assignments, s.assignSeeds(se, quizByStudent[i])...)
	}
	if err := s.studentExams.InsertQuizBatchAssignments(ctx, assignments); err != nil {
		return nil, fmt.Errorf("insert quiz batch assignments: %w", err)
	}
	return studentExams, nil
}

func (s *GeneratorService) buildStudentExam(exam *model.Exam, userID int64, testRun bool) (*model.StudentExam, []uuid.UUID) {
	se := &model.StudentExam{
		ExamID:      exam.ID,
		UserID:      userID,
		WorkingTime: exam.WorkingTime,
		TestRun:     testRun,
	}
	var quizIDs []uuid.UUID
	for _, g := range exam.ExerciseGroups {
		ex := g.Exercises[s.pickIndex(len(g.Exercises))]
		se.ExerciseIDs = append(se.ExerciseIDs, ex.ID)
		if ex.Type == model.ExerciseTypeQuiz {
			quizIDs = append(quizIDs, ex.ID)
		}
	}
	return se, quizIDs
}

func (s *GeneratorService) assignSeeds(se *model.StudentExam, quizIDs []uuid.UUID) []model.QuizBatchAssignment {
	assignments := make([]model.QuizBatchAssignment, 0, len(quizIDs))
	for _, exerciseID := range quizIDs {
		assignments = append(assignments, model.QuizBatchAssignment{
			StudentExamID: se.ID,
			ExerciseID:    exerciseID,
			Seed:          s.quizSeed(),
		})
	}
	return assignments
}
