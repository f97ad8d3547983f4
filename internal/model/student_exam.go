package model

import (
	"time"

	"github.com/google/uuid"
)

// StudentExam is one student's individualized instance of an exam:
// their selected exercises plus individual timing. Version guards
// working time updates with optimistic concurrency.
type StudentExam struct {
	ID             uuid.UUID   `json:"id"`
	ExamID         uuid.UUID   `json:"exam_id"`
	UserID         int64       `json:"user_id"`
	WorkingTime    int         `json:"working_time"` // seconds
	Started        bool        `json:"started"`
	StartedDate    *time.Time  `json:"started_date,omitempty"`
	Submitted      bool        `json:"submitted"`
	SubmissionDate *time.Time  `json:"submission_date,omitempty"`
	TestRun        bool        `json:"test_run"`
	Version        int64       `json:"-"`
	ExerciseIDs    []uuid.UUID `json:"exercise_ids"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IndividualEndDate is started_date + working_time once the student has
// started, otherwise exam start + working_time.
func (se *StudentExam) IndividualEndDate(examStart time.Time) time.Time {
	base := examStart
	if se.StartedDate != nil {
		base = *se.StartedDate
	}
	return base.Add(time.Duration(se.WorkingTime) * time.Second)
}

// IndividualEndDateWithGrace extends the individual end date by the
// exam's grace period.
func (se *StudentExam) IndividualEndDateWithGrace(examStart time.Time, gracePeriod int) time.Time {
	return se.IndividualEndDate(examStart).Add(time.Duration(gracePeriod) * time.Second)
}

// UpdateStudentExamWorkingTimeRequest sets an absolute individual
// working time in seconds for one student exam.
type UpdateStudentExamWorkingTimeRequest struct {
	WorkingTimeSeconds int `json:"working_time_seconds" binding:"required,min=1"`
}

// ToggleSubmittedRequest is the instructor override payload.
type ToggleSubmittedRequest struct {
	Submitted bool `json:"submitted"`
}

// AttendanceCheckRequest carries the optional instructor message shown
// to the student during an attendance check.
type AttendanceCheckRequest struct {
	Message string `json:"message" binding:"omitempty,max=500"`
}
