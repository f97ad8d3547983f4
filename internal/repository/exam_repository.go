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

// ExamRepository handles exam, exercise group and registration data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, course_id, title, visible_date, start_date, end_date, working_time,
	 grace_period, is_test_exam, number_of_correction_rounds, exam_max_points,
	 example_solution_publication_date, created_at, updated_at`

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.CourseID, &e.Title, &e.VisibleDate, &e.StartDate, &e.EndDate,
		&e.WorkingTime, &e.GracePeriod, &e.IsTestExam, &e.NumberOfCorrectionRounds,
		&e.ExamMaxPoints, &e.ExampleSolutionPublicationDate, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("exam")
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetExam retrieves an exam without its exercise groups.
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// GetExamWithGroups retrieves an exam with its exercise groups and
// exercises, groups ordered by position.
func (r *ExamRepository) GetExamWithGroups(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := r.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.exam_id, g.title, g.position,
		        e.id, e.group_id, e.title, e.type, e.max_points
		 FROM exercise_groups g
		 LEFT JOIN exercises e ON e.group_id = g.id
		 WHERE g.exam_id = $1
		 ORDER BY g.position ASC, e.id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.ExerciseGroup
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var g model.ExerciseGroup
		var exID, exGroupID *uuid.UUID
		var exTitle, exType *string
		var exMaxPoints *float64
		if err := rows.Scan(&g.ID, &g.ExamID, &g.Title, &g.Position,
			&exID, &exGroupID, &exTitle, &exType, &exMaxPoints); err != nil {
			return nil, err
		}
		i, ok := index[g.ID]
		if !ok {
			groups = append(groups, g)
			i = len(groups) - 1
			index[g.ID] = i
		}
		if exID != nil {
			groups[i].Exercises = append(groups[i].Exercises, model.Exercise{
				ID: *exID, GroupID: *exGroupID, Title: *exTitle,
				Type: model.ExerciseType(*exType), MaxPoints: *exMaxPoints,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	exam.ExerciseGroups = groups
	return exam, nil
}

// GetExamByExercise resolves the exam an exercise belongs to via its
// exercise group.
func (r *ExamRepository) GetExamByExercise(ctx context.Context, exerciseID uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT x.id, x.course_id, x.title, x.visible_date, x.start_date, x.end_date,
		        x.working_time, x.grace_period, x.is_test_exam, x.number_of_correction_rounds,
		        x.exam_max_points, x.example_solution_publication_date, x.created_at, x.updated_at
		 FROM exams x
		 JOIN exercise_groups g ON g.exam_id = x.id
		 JOIN exercises e ON e.group_id = g.id
		 WHERE e.id = $1`, exerciseID))
}

// ListRegisteredStudents returns the students registered for an exam.
func (r *ExamRepository) ListRegisteredStudents(ctx context.Context, examID uuid.UUID) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.login, u.name, u.email, u.created_at
		 FROM exam_registrations reg
		 JOIN users u ON u.id = reg.user_id
		 WHERE reg.exam_id = $1
		 ORDER BY u.id ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Login, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateExamWindow shifts the exam's end date and working time after an
// exam-wide working time change.
func (r *ExamRepository) UpdateExamWindow(ctx context.Context, examID uuid.UUID, endDate time.Time, workingTime int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET end_date = $1, working_time = $2, updated_at = NOW() WHERE id = $3`,
		endDate, workingTime, examID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("exam")
	}
	return nil
}
