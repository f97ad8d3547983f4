package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

// ResultRepository handles assessment results, submissions and
// submission policies. The results table carries a partial unique index
// on (submission_id, correction_round) WHERE completion_date IS NULL;
// that index is what makes TryInsertOpenResult an atomic
// check-and-create across processes.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `id, submission_id, assessor_id, correction_round, completion_date,
	 score, feedback, created_at, updated_at`

func scanResult(row pgx.Row) (*model.Result, error) {
	res := &model.Result{}
	err := row.Scan(&res.ID, &res.SubmissionID, &res.AssessorID, &res.CorrectionRound,
		&res.CompletionDate, &res.Score, &res.Feedback, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("result")
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TryInsertOpenResult creates a fresh open result for the given
// (submission, correction round), or returns (nil, nil) when another
// open result already holds the lock. The insert races against the
// partial unique index, never against a prior read.
func (r *ResultRepository) TryInsertOpenResult(ctx context.Context, submissionID uuid.UUID, round int, assessorID int64) (*model.Result, error) {
	res := &model.Result{SubmissionID: submissionID, CorrectionRound: round, AssessorID: &assessorID}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO results (submission_id, correction_round, assessor_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (submission_id, correction_round) WHERE completion_date IS NULL DO NOTHING
		 RETURNING id, created_at, updated_at`,
		submissionID, round, assessorID,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // lock held, caller decides re-entry vs conflict
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetOpenResult retrieves the in-progress result for a (submission,
// correction round), if any.
func (r *ResultRepository) GetOpenResult(ctx context.Context, submissionID uuid.UUID, round int) (*model.Result, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results
		 WHERE submission_id = $1 AND correction_round = $2 AND completion_date IS NULL`,
		submissionID, round))
}

// GetResult retrieves a result by id.
func (r *ResultRepository) GetResult(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results WHERE id = $1`, id))
}

// SaveAssessment writes feedback and score; a non-nil completionDate
// releases the lock.
func (r *ResultRepository) SaveAssessment(ctx context.Context, id uuid.UUID, feedback json.RawMessage, score *float64, completionDate *time.Time) (*model.Result, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`UPDATE results
		 SET feedback = $1, score = $2, completion_date = $3, updated_at = NOW()
		 WHERE id = $4
		 RETURNING `+resultColumns,
		feedback, score, completionDate, id))
}

// DeleteOpenResult removes an in-progress result owned by the given
// assessor. Returns false when no such row exists (wrong owner, already
// completed, or never locked).
func (r *ResultRepository) DeleteOpenResult(ctx context.Context, submissionID uuid.UUID, round int, assessorID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM results
		 WHERE submission_id = $1 AND correction_round = $2
		   AND assessor_id = $3 AND completion_date IS NULL`,
		submissionID, round, assessorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteResult hard-deletes a result regardless of state. Instructor
// corrections only.
func (r *ResultRepository) DeleteResult(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM results WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("result")
	}
	return nil
}

// GetSubmission retrieves the submission a lock request refers to.
func (r *ResultRepository) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participation_id, exercise_id, submitted_at FROM submissions WHERE id = $1`, id,
	).Scan(&s.ID, &s.ParticipationID, &s.ExerciseID, &s.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("submission")
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSubmissionPolicy retrieves the submission policy of an exercise,
// or nil when the exercise has none.
func (r *ResultRepository) GetSubmissionPolicy(ctx context.Context, exerciseID uuid.UUID) (*model.SubmissionPolicy, error) {
	p := &model.SubmissionPolicy{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exercise_id, active, submission_limit
		 FROM submission_policies WHERE exercise_id = $1`, exerciseID,
	).Scan(&p.ID, &p.ExerciseID, &p.Active, &p.SubmissionLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CountCountedSubmissions returns how many submissions of a
// participation already carry at least one result. Used for submission
// policy enforcement.
func (r *ResultRepository) CountCountedSubmissions(ctx context.Context, participationID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT s.id)
		 FROM submissions s
		 JOIN results res ON res.submission_id = s.id
		 WHERE s.participation_id = $1`, participationID,
	).Scan(&count)
	return count, err
}
