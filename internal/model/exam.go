package model

import (
	"time"

	"github.com/google/uuid"
)

// ExerciseType enumerates the kinds of exercises an exam may contain.
type ExerciseType string

const (
	ExerciseTypeQuiz        ExerciseType = "QUIZ"
	ExerciseTypeText        ExerciseType = "TEXT"
	ExerciseTypeModeling    ExerciseType = "MODELING"
	ExerciseTypeProgramming ExerciseType = "PROGRAMMING"
)

// Exam represents a timed assessment event with shared dates and
// exercise groups. Date invariant for real exams:
// visible_date < start_date < end_date; test exams relax the first
// comparison to <=.
type Exam struct {
	ID                             uuid.UUID       `json:"id"`
	CourseID                       int64           `json:"course_id"`
	Title                          string          `json:"title"`
	VisibleDate                    time.Time       `json:"visible_date"`
	StartDate                      time.Time       `json:"start_date"`
	EndDate                        time.Time       `json:"end_date"`
	WorkingTime                    int             `json:"working_time"` // seconds
	GracePeriod                    int             `json:"grace_period"` // seconds
	IsTestExam                     bool            `json:"is_test_exam"`
	NumberOfCorrectionRounds       int             `json:"number_of_correction_rounds"`
	ExamMaxPoints                  float64         `json:"exam_max_points"`
	ExampleSolutionPublicationDate *time.Time      `json:"example_solution_publication_date,omitempty"`
	ExerciseGroups                 []ExerciseGroup `json:"exercise_groups,omitempty"`
	CreatedAt                      time.Time       `json:"created_at"`
	UpdatedAt                      time.Time       `json:"updated_at"`
}

// Duration returns end_date - start_date in seconds.
func (e *Exam) Duration() int {
	return int(e.EndDate.Sub(e.StartDate) / time.Second)
}

// IsVisibleAt reports whether students can already see the exam.
func (e *Exam) IsVisibleAt(now time.Time) bool {
	return !now.Before(e.VisibleDate)
}

// ExerciseGroup is an ordered set of interchangeable exercises. Each
// student exam includes exactly one exercise per group.
type ExerciseGroup struct {
	ID        uuid.UUID  `json:"id"`
	ExamID    uuid.UUID  `json:"exam_id"`
	Title     string     `json:"title"`
	Position  int        `json:"position"`
	Exercises []Exercise `json:"exercises,omitempty"`
}

// Exercise belongs to exactly one exercise group.
type Exercise struct {
	ID        uuid.UUID    `json:"id"`
	GroupID   uuid.UUID    `json:"group_id"`
	Title     string       `json:"title"`
	Type      ExerciseType `json:"type"`
	MaxPoints float64      `json:"max_points"`
}

// QuizBatchAssignment pins a quiz exercise's question order for one
// student exam at generation time, so the order does not depend on when
// the student starts.
type QuizBatchAssignment struct {
	StudentExamID uuid.UUID `json:"student_exam_id"`
	ExerciseID    uuid.UUID `json:"exercise_id"`
	Seed          int64     `json:"seed"`
}

// UpdateExamWorkingTimeRequest carries an exam-wide working time delta
// in seconds. Zero is rejected by the coordinator.
type UpdateExamWorkingTimeRequest struct {
	DeltaSeconds int `json:"delta_seconds" binding:"required"`
}

// AnnouncementRequest is the payload for an exam-wide announcement.
type AnnouncementRequest struct {
	Message string `json:"message" binding:"required,min=1,max=2000"`
}
