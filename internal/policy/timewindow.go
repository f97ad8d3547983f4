// Package policy holds the pure exam time-window validation rules.
// Nothing in here touches storage or the clock.
package policy

import (
	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

// Reason codes for time-window validation failures.
const (
	CodeDatesOrder            = "EXAM_DATES_ORDER"
	CodeSolutionBeforeEnd     = "EXAMPLE_SOLUTION_BEFORE_END"
	CodeMaxPointsNotPositive  = "EXAM_MAX_POINTS_NOT_POSITIVE"
	CodeWorkingTimeOutOfRange = "WORKING_TIME_OUT_OF_RANGE"
	CodeCorrectionRounds      = "CORRECTION_ROUNDS_INVALID"
)

// ValidateDates enforces the date ordering invariant. Real exams need
// visible < start < end; test exams relax the first comparison to <=.
// An example solution publication date, when set, may not precede the
// end date, and exam_max_points must be positive.
func ValidateDates(exam *model.Exam) error {
	if exam.VisibleDate.After(exam.StartDate) {
		return apperr.Validation(CodeDatesOrder, "exam", "visible_date",
			"visible date must not be after start date")
	}
	if !exam.IsTestExam && !exam.VisibleDate.Before(exam.StartDate) {
		return apperr.Validation(CodeDatesOrder, "exam", "visible_date",
			"visible date must be before start date")
	}
	if !exam.StartDate.Before(exam.EndDate) {
		return apperr.Validation(CodeDatesOrder, "exam", "start_date",
			"start date must be before end date")
	}
	if exam.ExampleSolutionPublicationDate != nil && exam.ExampleSolutionPublicationDate.Before(exam.EndDate) {
		return apperr.Validation(CodeSolutionBeforeEnd, "exam", "example_solution_publication_date",
			"example solution must not be published before the exam ends")
	}
	if exam.ExamMaxPoints <= 0 {
		return apperr.Validation(CodeMaxPointsNotPositive, "exam", "exam_max_points",
			"exam max points must be positive")
	}
	return nil
}

// NormalizeWorkingTime validates a test exam's working time against its
// window, and for real exams derives working time as end - start
// (self-healing when the caller's value disagrees). Returns the value
// the exam should carry.
func NormalizeWorkingTime(exam *model.Exam) (int, error) {
	if exam.IsTestExam {
		if exam.WorkingTime < 1 || exam.WorkingTime > exam.Duration() {
			return 0, apperr.Validation(CodeWorkingTimeOutOfRange, "exam", "working_time",
				"test exam working time must be within [1, end-start] seconds")
		}
		return exam.WorkingTime, nil
	}
	return exam.Duration(), nil
}

// ValidateCorrectionRounds requires exactly 0 rounds for test exams and
// 1 or 2 for real exams.
func ValidateCorrectionRounds(exam *model.Exam) error {
	if exam.IsTestExam {
		if exam.NumberOfCorrectionRounds != 0 {
			return apperr.Validation(CodeCorrectionRounds, "exam", "number_of_correction_rounds",
				"test exams must have zero correction rounds")
		}
		return nil
	}
	if exam.NumberOfCorrectionRounds < 1 || exam.NumberOfCorrectionRounds > 2 {
		return apperr.Validation(CodeCorrectionRounds, "exam", "number_of_correction_rounds",
			"real exams must have one or two correction rounds")
	}
	return nil
}
