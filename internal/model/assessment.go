package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Submission is a student's answer to one exercise within a
// participation. Only the fields the assessment arbitration needs are
// modeled here.
type Submission struct {
	ID              uuid.UUID  `json:"id"`
	ParticipationID uuid.UUID  `json:"participation_id"`
	ExerciseID      uuid.UUID  `json:"exercise_id"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
}

// Result is the assessment lock unit. A nil CompletionDate means the
// assessment is in progress and the assessor holds the lock for this
// (submission, correction round) pair. At most one open Result may
// exist per pair; the database enforces this with a partial unique
// index.
type Result struct {
	ID              uuid.UUID       `json:"id"`
	SubmissionID    uuid.UUID       `json:"submission_id"`
	AssessorID      *int64          `json:"assessor_id,omitempty"`
	CorrectionRound int             `json:"correction_round"`
	CompletionDate  *time.Time      `json:"completion_date,omitempty"`
	Score           *float64        `json:"score,omitempty"`
	Feedback        json.RawMessage `json:"feedback,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Open reports whether the result still holds the assessment lock.
func (r *Result) Open() bool { return r.CompletionDate == nil }

// SubmissionPolicy governs how many counted submissions a participation
// may make on a programming exercise before penalty or lockout. The
// arbitration core only reads it; penalty arithmetic lives elsewhere.
type SubmissionPolicy struct {
	ID              uuid.UUID `json:"id"`
	ExerciseID      uuid.UUID `json:"exercise_id"`
	Active          bool      `json:"active"`
	SubmissionLimit int       `json:"submission_limit"`
}

// SaveAssessmentRequest writes feedback to a locked result. submit=true
// completes the assessment and releases the lock.
type SaveAssessmentRequest struct {
	Feedback json.RawMessage `json:"feedback" binding:"required"`
	Score    *float64        `json:"score" binding:"omitempty,min=0"`
	Submit   bool            `json:"submit"`
}
