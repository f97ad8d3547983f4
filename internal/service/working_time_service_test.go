package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

type workingTimeFixture struct {
	svc          *WorkingTimeService
	exams        *memExamStore
	studentExams *memStudentExamStore
	users        *memUserStore
	audit        *recordingAudit
	live         *recordingLiveEvents
	sched        *recordingScheduler
}

func newWorkingTimeFixture(now time.Time) *workingTimeFixture {
	exams := newMemExamStore()
	studentExams := newMemStudentExamStore()
	users := newMemUserStore()
	audit := &recordingAudit{}
	live := &recordingLiveEvents{}
	sched := &recordingScheduler{}
	svc := NewWorkingTimeService(exams, studentExams, NewAuthorizer(users), audit, live, sched, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return &workingTimeFixture{svc: svc, exams: exams, studentExams: studentExams,
		users: users, audit: audit, live: live, sched: sched}
}

func makeRunningExam(now time.Time) *model.Exam {
	return &model.Exam{
		ID:                       uuid.New(),
		CourseID:                 1,
		VisibleDate:              now.Add(-time.Hour),
		StartDate:                now.Add(-30 * time.Minute),
		EndDate:                  now.Add(90 * time.Minute),
		WorkingTime:              7200,
		NumberOfCorrectionRounds: 1,
		ExamMaxPoints:            100,
	}
}

func TestExamDeltaZeroRejected(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	_, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 0)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error for zero delta", err)
	}
}

func TestExamDeltaRebasesAdditively(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	plain := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	extended := &model.StudentExam{ExamID: exam.ID, UserID: 11, WorkingTime: 7800} // individual extension
	testRun := &model.StudentExam{ExamID: exam.ID, UserID: 12, WorkingTime: 7200, TestRun: true}
	f.studentExams.add(plain)
	f.studentExams.add(extended)
	f.studentExams.add(testRun)

	oldEnd := exam.EndDate
	updated, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 600)
	if err != nil {
		t.Fatalf("ApplyExamDelta: %v", err)
	}
	if updated.WorkingTime != 7800 {
		t.Errorf("exam working time = %d, want 7800", updated.WorkingTime)
	}
	if !updated.EndDate.Equal(oldEnd.Add(600 * time.Second)) {
		t.Errorf("end date = %v, want old end shifted by 600s", updated.EndDate)
	}
	if got := f.studentExams.get(plain.ID).WorkingTime; got != 7800 {
		t.Errorf("plain student exam = %d, want 7800", got)
	}
	if got := f.studentExams.get(extended.ID).WorkingTime; got != 8400 {
		t.Errorf("extended student exam = %d, want extension preserved at 8400", got)
	}
	if got := f.studentExams.get(testRun.ID).WorkingTime; got != 7200 {
		t.Errorf("test run = %d, want untouched 7200", got)
	}
}

func TestExamDeltaNegativeShrinks(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	if _, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, -600); err != nil {
		t.Fatalf("ApplyExamDelta: %v", err)
	}
	if got := f.studentExams.get(se.ID).WorkingTime; got != 6600 {
		t.Errorf("student exam working time = %d, want 6600", got)
	}
}

func TestExamDeltaHealsDriftedWorkingTime(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	exam.WorkingTime = 7000 // disagrees with the 7200s window
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	updated, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 600)
	if err != nil {
		t.Fatalf("ApplyExamDelta: %v", err)
	}
	if updated.WorkingTime != 7800 {
		t.Errorf("exam working time = %d, want 7800 derived from the shifted window", updated.WorkingTime)
	}
}

func TestExamDeltaRejectsEndBeforeStart(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	_, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, -3*3600)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error when end moves before start", err)
	}
}

func TestExamDeltaTestExamRejected(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	exam.IsTestExam = true
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	_, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 600)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict for test exam", err)
	}
}

func TestExamDeltaPublishesOnlyWhenVisible(t *testing.T) {
	now := time.Now()

	t.Run("visible", func(t *testing.T) {
		f := newWorkingTimeFixture(now)
		exam := makeRunningExam(now)
		f.exams.add(exam)
		f.users.grant(1, 1, model.RoleInstructor)
		if _, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 300); err != nil {
			t.Fatalf("ApplyExamDelta: %v", err)
		}
		if len(f.live.events) != 1 || f.live.events[0].Type != LiveEventWorkingTimeUpdate {
			t.Fatalf("events = %+v, want one working time update", f.live.events)
		}
		if !f.live.events[0].CourseWideChange {
			t.Error("exam-wide change must be flagged course wide")
		}
	})

	t.Run("not yet visible", func(t *testing.T) {
		f := newWorkingTimeFixture(now)
		exam := makeRunningExam(now)
		exam.VisibleDate = now.Add(time.Hour)
		exam.StartDate = now.Add(2 * time.Hour)
		exam.EndDate = now.Add(4 * time.Hour)
		exam.WorkingTime = 7200
		f.exams.add(exam)
		f.users.grant(1, 1, model.RoleInstructor)
		f.studentExams.add(&model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200})
		if _, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 300); err != nil {
			t.Fatalf("ApplyExamDelta: %v", err)
		}
		if len(f.live.events) != 0 {
			t.Fatalf("events = %+v, want none before the exam is visible", f.live.events)
		}
		if len(f.sched.examIDs) != 0 {
			t.Fatalf("rescheduled exams = %v, want none before the exam is visible", f.sched.examIDs)
		}
	})
}

func TestExamDeltaReschedulesWhenEndInFuture(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	f.studentExams.add(&model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200})

	if _, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 300); err != nil {
		t.Fatalf("ApplyExamDelta: %v", err)
	}
	if len(f.sched.examIDs) != 1 || f.sched.examIDs[0] != exam.ID {
		t.Fatalf("rescheduled exams = %v, want exactly the changed exam", f.sched.examIDs)
	}
}

func TestIndividualRejectsNonPositive(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)

	for _, seconds := range []int{0, -60} {
		_, err := f.svc.ApplyIndividualWorkingTime(context.Background(), 1, uuid.New(), seconds)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("seconds=%d: err = %v, want validation error", seconds, err)
		}
	}
}

func TestIndividualRejectsBelowUsedTime(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	started := now.Add(-time.Hour)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200,
		Started: true, StartedDate: &started}
	f.studentExams.add(se)

	_, err := f.svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, 1800)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error for working time below used time", err)
	}
}

func TestIndividualUpdatesAndNotifies(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	updated, err := f.svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, 8100)
	if err != nil {
		t.Fatalf("ApplyIndividualWorkingTime: %v", err)
	}
	if updated.WorkingTime != 8100 {
		t.Errorf("working time = %d, want 8100", updated.WorkingTime)
	}
	if len(f.live.events) != 1 {
		t.Fatalf("events = %+v, want one working time update", f.live.events)
	}
	ev := f.live.events[0]
	if ev.StudentExamID == nil || *ev.StudentExamID != se.ID {
		t.Error("individual change must address the student exam")
	}
	if ev.OldWorkingTime != 7200 || ev.NewWorkingTime != 8100 {
		t.Errorf("event times = %d -> %d, want 7200 -> 8100", ev.OldWorkingTime, ev.NewWorkingTime)
	}
	if len(f.sched.studentExams) != 1 || f.sched.studentExams[0] != se.ID {
		t.Errorf("rescheduled student exams = %v, want the changed one", f.sched.studentExams)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != model.AuditIndividualTime {
		t.Errorf("audit actions = %v, want one individual working time change", f.audit.actions)
	}
}

func TestIndividualTestRunStaysSilent(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200, TestRun: true}
	f.studentExams.add(se)

	if _, err := f.svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, 3600); err != nil {
		t.Fatalf("ApplyIndividualWorkingTime: %v", err)
	}
	if len(f.live.events) != 0 || len(f.sched.studentExams) != 0 {
		t.Error("test run changes must not notify or reschedule")
	}
}

// casFlakyStore loses the first CAS attempt to simulate a concurrent
// exam-wide rebase.
type casFlakyStore struct {
	*memStudentExamStore
	failures int
}

func (s *casFlakyStore) UpdateWorkingTimeCAS(ctx context.Context, id uuid.UUID, workingTime int, version int64) (bool, error) {
	if s.failures > 0 {
		s.failures--
		s.memStudentExamStore.RebaseWorkingTimes(ctx, s.mustGet(id).ExamID, 0) // bumps version
		return false, nil
	}
	return s.memStudentExamStore.UpdateWorkingTimeCAS(ctx, id, workingTime, version)
}

func (s *casFlakyStore) mustGet(id uuid.UUID) model.StudentExam {
	return s.memStudentExamStore.get(id)
}

func TestIndividualRetriesLostCASRace(t *testing.T) {
	now := time.Now()
	exams := newMemExamStore()
	studentExams := &casFlakyStore{memStudentExamStore: newMemStudentExamStore(), failures: 1}
	users := newMemUserStore()
	svc := NewWorkingTimeService(exams, studentExams, NewAuthorizer(users), &recordingAudit{},
		&recordingLiveEvents{}, &recordingScheduler{}, zerolog.Nop())
	svc.now = func() time.Time { return now }

	exam := makeRunningExam(now)
	exams.add(exam)
	users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	studentExams.add(se)

	updated, err := svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, 9000)
	if err != nil {
		t.Fatalf("ApplyIndividualWorkingTime: %v", err)
	}
	if updated.WorkingTime != 9000 {
		t.Errorf("working time = %d, want 9000 after retry", updated.WorkingTime)
	}
}

func TestIndividualGivesUpAfterTwoLostRaces(t *testing.T) {
	now := time.Now()
	exams := newMemExamStore()
	studentExams := &casFlakyStore{memStudentExamStore: newMemStudentExamStore(), failures: 2}
	users := newMemUserStore()
	svc := NewWorkingTimeService(exams, studentExams, NewAuthorizer(users), &recordingAudit{},
		&recordingLiveEvents{}, &recordingScheduler{}, zerolog.Nop())
	svc.now = func() time.Time { return now }

	exam := makeRunningExam(now)
	exams.add(exam)
	users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	studentExams.add(se)

	_, err := svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, 9000)
	if !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("err = %v, want transient error after two lost races", err)
	}
}

// An exam-wide delta after an individual extension composes additively,
// so the extension survives.
func TestExamAndIndividualChangesCompose(t *testing.T) {
	now := time.Now()
	f := newWorkingTimeFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	current := f.studentExams.get(se.ID)
	if _, err := f.svc.ApplyIndividualWorkingTime(context.Background(), 1, se.ID, current.WorkingTime+900); err != nil {
		t.Fatalf("individual extension: %v", err)
	}
	if _, err := f.svc.ApplyExamDelta(context.Background(), 1, exam.ID, 600); err != nil {
		t.Fatalf("exam delta: %v", err)
	}
	if got := f.studentExams.get(se.ID).WorkingTime; got != 7200+900+600 {
		t.Errorf("working time = %d, want 8700 (base + extension + delta)", got)
	}
}
