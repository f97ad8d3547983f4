package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/model"
)

// ExamSessionRecord pairs an exam session with the student exam context
// the suspicious-session analysis needs.
type ExamSessionRecord struct {
	model.ExamSession
	UserID  int64 `json:"user_id"`
	TestRun bool  `json:"test_run"`
}

// ExamSessionRepository handles exam session data access. Sessions are
// append-only; the initial_session flag is derived at insert time.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// InsertSession stores a new session. initial_session is computed from
// the prior session count in the same statement so concurrent resumes
// cannot both claim to be first.
func (r *ExamSessionRepository) InsertSession(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions
		     (student_exam_id, session_token, ip_address, browser_fingerprint, instance_id, user_agent, initial_session)
		 VALUES ($1, $2, $3, $4, $5, $6,
		     NOT EXISTS (SELECT 1 FROM exam_sessions WHERE student_exam_id = $1))
		 RETURNING id, initial_session, created_at`,
		s.StudentExamID, s.SessionToken, s.IPAddress, s.BrowserFingerprint, s.InstanceID, s.UserAgent,
	).Scan(&s.ID, &s.InitialSession, &s.CreatedAt)
}

// ListSessionsByExam returns all sessions of an exam joined with their
// student exam context, ordered by creation time.
func (r *ExamSessionRepository) ListSessionsByExam(ctx context.Context, examID uuid.UUID) ([]ExamSessionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_exam_id, s.session_token, s.ip_address, s.browser_fingerprint,
		        s.instance_id, s.user_agent, s.initial_session, s.created_at,
		        se.user_id, se.test_run
		 FROM exam_sessions s
		 JOIN student_exams se ON se.id = s.student_exam_id
		 WHERE se.exam_id = $1
		 ORDER BY s.created_at ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExamSessionRecord
	for rows.Next() {
		var rec ExamSessionRecord
		if err := rows.Scan(&rec.ID, &rec.StudentExamID, &rec.SessionToken, &rec.IPAddress,
			&rec.BrowserFingerprint, &rec.InstanceID, &rec.UserAgent, &rec.InitialSession,
			&rec.CreatedAt, &rec.UserID, &rec.TestRun); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountSessionsByStudentExam returns how many sessions a student exam
// has recorded.
func (r *ExamSessionRepository) CountSessionsByStudentExam(ctx context.Context, studentExamID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE student_exam_id = $1`, studentExamID,
	).Scan(&count)
	return count, err
}
