package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

// StudentExamRepository handles student exam data access, including the
// ordered exercise selection and quiz batch assignments.
type StudentExamRepository struct {
	pool *pgxpool.Pool
}

// NewStudentExamRepository creates a new StudentExamRepository.
func NewStudentExamRepository(pool *pgxpool.Pool) *StudentExamRepository {
	return &StudentExamRepository{pool: pool}
}

const studentExamColumns = `id, exam_id, user_id, working_time, started, started_date,
	 submitted, submission_date, test_run, version, created_at`

func scanStudentExam(row pgx.Row) (*model.StudentExam, error) {
	se := &model.StudentExam{}
	err := row.Scan(&se.ID, &se.ExamID, &se.UserID, &se.WorkingTime, &se.Started,
		&se.StartedDate, &se.Submitted, &se.SubmissionDate, &se.TestRun, &se.Version, &se.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("student exam")
	}
	if err != nil {
		return nil, err
	}
	return se, nil
}

// InsertStudentExams stores freshly generated student exams and their
// ordered exercise selections in one transaction.
func (r *StudentExamRepository) InsertStudentExams(ctx context.Context, studentExams []*model.StudentExam) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, se := range studentExams {
		err := tx.QueryRow(ctx,
			`INSERT INTO student_exams (exam_id, user_id, working_time, test_run)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			se.ExamID, se.UserID, se.WorkingTime, se.TestRun,
		).Scan(&se.ID, &se.CreatedAt)
		if err != nil {
			return err
		}
		for pos, exerciseID := range se.ExerciseIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO student_exam_exercises (student_exam_id, exercise_id, position)
				 VALUES ($1, $2, $3)`,
				se.ID, exerciseID, pos); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// InsertQuizBatchAssignments bulk-stores quiz batch seeds materialized
// at generation time.
func (r *StudentExamRepository) InsertQuizBatchAssignments(ctx context.Context, assignments []model.QuizBatchAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(assignments))
	for _, a := range assignments {
		rows = append(rows, []interface{}{a.StudentExamID, a.ExerciseID, a.Seed})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"quiz_batch_assignments"},
		[]string{"student_exam_id", "exercise_id", "seed"},
		pgx.CopyFromRows(rows))
	return err
}

// DeleteStudentExamsByExam removes all student exams of an exam. The
// schema cascades to exercise selections, sessions, and quiz batch
// assignments. Returns the number of deleted student exams.
func (r *StudentExamRepository) DeleteStudentExamsByExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM student_exams WHERE exam_id = $1`, examID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetStudentExam retrieves one student exam with its ordered exercises.
func (r *StudentExamRepository) GetStudentExam(ctx context.Context, id uuid.UUID) (*model.StudentExam, error) {
	se, err := scanStudentExam(r.pool.QueryRow(ctx,
		`SELECT `+studentExamColumns+` FROM student_exams WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadExercises(ctx, se); err != nil {
		return nil, err
	}
	return se, nil
}

func (r *StudentExamRepository) loadExercises(ctx context.Context, se *model.StudentExam) error {
	rows, err := r.pool.Query(ctx,
		`SELECT exercise_id FROM student_exam_exercises
		 WHERE student_exam_id = $1 ORDER BY position ASC`, se.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		se.ExerciseIDs = append(se.ExerciseIDs, id)
	}
	return rows.Err()
}

// ListStudentExamsByExam retrieves all student exams of an exam without
// their exercise selections.
func (r *StudentExamRepository) ListStudentExamsByExam(ctx context.Context, examID uuid.UUID) ([]model.StudentExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+studentExamColumns+` FROM student_exams
		 WHERE exam_id = $1 ORDER BY created_at ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var studentExams []model.StudentExam
	for rows.Next() {
		var se model.StudentExam
		if err := rows.Scan(&se.ID, &se.ExamID, &se.UserID, &se.WorkingTime, &se.Started,
			&se.StartedDate, &se.Submitted, &se.SubmissionDate, &se.TestRun, &se.Version, &se.CreatedAt); err != nil {
			return nil, err
		}
		studentExams = append(studentExams, se)
	}
	return studentExams, rows.Err()
}

// ListUserIDsWithStudentExam returns the ids of users that already have
// a non-test-run student exam for the given exam.
func (r *StudentExamRepository) ListUserIDsWithStudentExam(ctx context.Context, examID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM student_exams WHERE exam_id = $1 AND NOT test_run`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RebaseWorkingTimes applies an exam-wide delta to every non-test-run
// student exam of the exam, preserving individual extensions.
func (r *StudentExamRepository) RebaseWorkingTimes(ctx context.Context, examID uuid.UUID, deltaSeconds int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE student_exams
		 SET working_time = working_time + $1, version = version + 1
		 WHERE exam_id = $2 AND NOT test_run`,
		deltaSeconds, examID)
	return err
}

// UpdateWorkingTimeCAS sets an individual working time guarded by the
// optimistic version. Returns false when the version moved underneath
// the caller.
func (r *StudentExamRepository) UpdateWorkingTimeCAS(ctx context.Context, id uuid.UUID, workingTime int, version int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_exams
		 SET working_time = $1, version = version + 1
		 WHERE id = $2 AND version = $3`,
		workingTime, id, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStarted records the first conduction fetch. Idempotent: a second
// call leaves the original started_date untouched.
func (r *StudentExamRepository) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE student_exams SET started = TRUE, started_date = $1
		 WHERE id = $2 AND NOT started`, at, id)
	return err
}

// MarkSubmitted flips the submitted flag exactly once. Returns false
// when the student exam was already submitted (idempotent no-op for the
// caller).
func (r *StudentExamRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_exams SET submitted = TRUE, submission_date = $1
		 WHERE id = $2 AND NOT submitted`, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetSubmittedState is the instructor override that bypasses the normal
// conduction flow.
func (r *StudentExamRepository) SetSubmittedState(ctx context.Context, id uuid.UUID, submitted bool, at *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_exams SET submitted = $1, submission_date = $2 WHERE id = $3`,
		submitted, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("student exam")
	}
	return nil
}
