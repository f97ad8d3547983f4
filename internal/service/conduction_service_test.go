package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
)

type conductionFixture struct {
	svc          *ConductionService
	exams        *memExamStore
	studentExams *memStudentExamStore
	sessions     *memSessionStore
	users        *memUserStore
	audit        *recordingAudit
	live         *recordingLiveEvents
}

func newConductionFixture(now time.Time) *conductionFixture {
	cfg := &config.Config{StartWaitWindow: 5 * time.Minute}
	exams := newMemExamStore()
	studentExams := newMemStudentExamStore()
	sessions := newMemSessionStore()
	users := newMemUserStore()
	audit := &recordingAudit{}
	live := &recordingLiveEvents{}
	authz := NewAuthorizer(users)
	monitor := NewSessionMonitorService(exams, sessions, authz, zerolog.Nop())
	svc := NewConductionService(cfg, exams, studentExams, monitor, authz, audit, live, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return &conductionFixture{svc: svc, exams: exams, studentExams: studentExams,
		sessions: sessions, users: users, audit: audit, live: live}
}

func TestStartBeforeWindowRejected(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	exam.StartDate = now.Add(10 * time.Minute) // outside the 5 minute wait window
	exam.EndDate = exam.StartDate.Add(2 * time.Hour)
	f.exams.add(exam)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	_, _, err := f.svc.StartConduction(context.Background(), 10, se.ID, SessionMeta{})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict before the start window opens", err)
	}
}

func TestStartWithinWaitWindowAllowed(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	exam.StartDate = now.Add(3 * time.Minute) // inside the 5 minute wait window
	exam.EndDate = exam.StartDate.Add(2 * time.Hour)
	f.exams.add(exam)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	started, session, err := f.svc.StartConduction(context.Background(), 10, se.ID, SessionMeta{})
	if err != nil {
		t.Fatalf("StartConduction: %v", err)
	}
	if !started.Started || started.StartedDate == nil {
		t.Error("student exam not marked started")
	}
	if session == nil || len(session.SessionToken) != 16 {
		t.Fatalf("session = %+v, want a 16 character token", session)
	}
	if !session.InitialSession {
		t.Error("first session must be the initial one")
	}
}

func TestStartResumeKeepsOriginalStartDate(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	first, _, err := f.svc.StartConduction(context.Background(), 10, se.ID, SessionMeta{})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	f.svc.now = func() time.Time { return now.Add(10 * time.Minute) }
	second, session, err := f.svc.StartConduction(context.Background(), 10, se.ID, SessionMeta{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !second.StartedDate.Equal(*first.StartedDate) {
		t.Errorf("resume moved started date from %v to %v", first.StartedDate, second.StartedDate)
	}
	if session.InitialSession {
		t.Error("resume session must not be flagged initial")
	}
}

func TestStartOwnershipEnforced(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	_, _, err := f.svc.StartConduction(context.Background(), 11, se.ID, SessionMeta{})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("err = %v, want forbidden for a foreign student exam", err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	started := now.Add(-20 * time.Minute)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200,
		Started: true, StartedDate: &started}
	f.studentExams.add(se)

	first, err := f.svc.Submit(context.Background(), 10, se.ID)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Submitted || first.SubmissionDate == nil {
		t.Fatal("first submit did not record the submission")
	}

	f.svc.now = func() time.Time { return now.Add(5 * time.Minute) }
	second, err := f.svc.Submit(context.Background(), 10, se.ID)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.SubmissionDate.Equal(*first.SubmissionDate) {
		t.Errorf("resubmit moved submission date from %v to %v", first.SubmissionDate, second.SubmissionDate)
	}
}

func TestSubmitOutsideWindowRejected(t *testing.T) {
	now := time.Now()

	t.Run("before start", func(t *testing.T) {
		f := newConductionFixture(now)
		exam := makeRunningExam(now)
		exam.StartDate = now.Add(time.Minute)
		exam.EndDate = exam.StartDate.Add(2 * time.Hour)
		f.exams.add(exam)
		se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
		f.studentExams.add(se)

		_, err := f.svc.Submit(context.Background(), 10, se.ID)
		if !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("err = %v, want conflict before exam start", err)
		}
	})

	t.Run("after deadline plus grace", func(t *testing.T) {
		f := newConductionFixture(now)
		exam := makeRunningExam(now)
		exam.GracePeriod = 180
		f.exams.add(exam)
		started := now.Add(-3 * time.Hour)
		se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 3600,
			Started: true, StartedDate: &started}
		f.studentExams.add(se)

		_, err := f.svc.Submit(context.Background(), 10, se.ID)
		if !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("err = %v, want conflict after the grace period", err)
		}
	})

	t.Run("inside grace period", func(t *testing.T) {
		f := newConductionFixture(now)
		exam := makeRunningExam(now)
		exam.GracePeriod = 180
		f.exams.add(exam)
		started := now.Add(-3602 * time.Second) // 2 seconds past working time, inside grace
		se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 3600,
			Started: true, StartedDate: &started}
		f.studentExams.add(se)

		if _, err := f.svc.Submit(context.Background(), 10, se.ID); err != nil {
			t.Fatalf("Submit inside grace period: %v", err)
		}
	})
}

func TestToggleUnsubmitRequiresConductionOver(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	started := now.Add(-10 * time.Minute)
	submitted := now.Add(-time.Minute)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200,
		Started: true, StartedDate: &started, Submitted: true, SubmissionDate: &submitted}
	f.studentExams.add(se)

	_, err := f.svc.ToggleSubmitted(context.Background(), 1, se.ID, false)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict while conduction is still running", err)
	}

	// After the individual end plus grace the override goes through and
	// leaves an audit trail.
	f.svc.now = func() time.Time { return started.Add(7200*time.Second + time.Minute) }
	toggled, err := f.svc.ToggleSubmitted(context.Background(), 1, se.ID, false)
	if err != nil {
		t.Fatalf("ToggleSubmitted: %v", err)
	}
	if toggled.Submitted || toggled.SubmissionDate != nil {
		t.Error("un-submit did not clear the submitted state")
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != model.AuditToggleSubmitted {
		t.Errorf("audit actions = %v, want one toggle record", f.audit.actions)
	}
}

func TestToggleToSubmittedRequiresConductionOver(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	started := now.Add(-10 * time.Minute)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200,
		Started: true, StartedDate: &started}
	f.studentExams.add(se)

	_, err := f.svc.ToggleSubmitted(context.Background(), 1, se.ID, true)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict while conduction is still running", err)
	}
	if f.studentExams.get(se.ID).Submitted {
		t.Fatal("rejected toggle must not change the submitted state")
	}

	f.svc.now = func() time.Time { return started.Add(7200*time.Second + time.Minute) }
	toggled, err := f.svc.ToggleSubmitted(context.Background(), 1, se.ID, true)
	if err != nil {
		t.Fatalf("ToggleSubmitted: %v", err)
	}
	if !toggled.Submitted || toggled.SubmissionDate == nil {
		t.Error("toggle after the conduction did not mark the exam submitted")
	}
}

func TestToggleSubmittedNoopWhenUnchanged(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	if _, err := f.svc.ToggleSubmitted(context.Background(), 1, se.ID, false); err != nil {
		t.Fatalf("ToggleSubmitted: %v", err)
	}
	if len(f.audit.actions) != 0 {
		t.Error("a no-op toggle must not be audited")
	}
}

func TestToggleRequiresInstructor(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(2, 1, model.RoleTutor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	_, err := f.svc.ToggleSubmitted(context.Background(), 2, se.ID, true)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("err = %v, want forbidden for tutor actor", err)
	}
}

func TestAnnounceRequiresVisibleExam(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	exam.VisibleDate = now.Add(time.Hour)
	exam.StartDate = now.Add(2 * time.Hour)
	exam.EndDate = now.Add(4 * time.Hour)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	err := f.svc.Announce(context.Background(), 1, exam.ID, "please check page 2")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict for an invisible exam", err)
	}
	if len(f.live.events) != 0 {
		t.Error("no event may be published for an invisible exam")
	}
}

func TestAnnouncePublishes(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)

	if err := f.svc.Announce(context.Background(), 1, exam.ID, "10 extra minutes"); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(f.live.events) != 1 || f.live.events[0].Type != LiveEventAnnouncement {
		t.Fatalf("events = %+v, want one announcement", f.live.events)
	}
}

func TestAttendanceCheckTargetsStudent(t *testing.T) {
	now := time.Now()
	f := newConductionFixture(now)
	exam := makeRunningExam(now)
	f.exams.add(exam)
	f.users.grant(1, 1, model.RoleInstructor)
	se := &model.StudentExam{ExamID: exam.ID, UserID: 10, WorkingTime: 7200}
	f.studentExams.add(se)

	if err := f.svc.AttendanceCheck(context.Background(), 1, se.ID, "please wave"); err != nil {
		t.Fatalf("AttendanceCheck: %v", err)
	}
	if len(f.live.events) != 1 {
		t.Fatalf("events = %+v, want one attendance check", f.live.events)
	}
	ev := f.live.events[0]
	if ev.Type != LiveEventAttendanceCheck || ev.StudentExamID == nil || *ev.StudentExamID != se.ID {
		t.Errorf("event = %+v, want attendance check addressed to the student exam", ev)
	}
}
