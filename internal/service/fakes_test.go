package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
)

// In-memory store fakes. The result store takes a mutex around the
// check-and-insert so concurrency tests exercise the same atomicity the
// partial unique index gives the real repository.

type memExamStore struct {
	mu         sync.Mutex
	exams      map[uuid.UUID]*model.Exam
	students   map[uuid.UUID][]model.User
	byExercise map[uuid.UUID]uuid.UUID
}

func newMemExamStore() *memExamStore {
	return &memExamStore{
		exams:      make(map[uuid.UUID]*model.Exam),
		students:   make(map[uuid.UUID][]model.User),
		byExercise: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memExamStore) add(exam *model.Exam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[exam.ID] = exam
	for _, g := range exam.ExerciseGroups {
		for _, ex := range g.Exercises {
			m.byExercise[ex.ID] = exam.ID
		}
	}
}

func (m *memExamStore) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exam, ok := m.exams[id]
	if !ok {
		return nil, apperr.NotFound("exam")
	}
	cp := *exam
	return &cp, nil
}

func (m *memExamStore) GetExamWithGroups(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return m.GetExam(ctx, id)
}

func (m *memExamStore) GetExamByExercise(ctx context.Context, exerciseID uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	examID, ok := m.byExercise[exerciseID]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("exam")
	}
	return m.GetExam(ctx, examID)
}

func (m *memExamStore) ListRegisteredStudents(_ context.Context, examID uuid.UUID) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.User{}, m.students[examID]...), nil
}

func (m *memExamStore) UpdateExamWindow(_ context.Context, examID uuid.UUID, endDate time.Time, workingTime int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exam, ok := m.exams[examID]
	if !ok {
		return apperr.NotFound("exam")
	}
	exam.EndDate = endDate
	exam.WorkingTime = workingTime
	return nil
}

type memStudentExamStore struct {
	mu           sync.Mutex
	studentExams map[uuid.UUID]*model.StudentExam
	assignments  []model.QuizBatchAssignment
}

func newMemStudentExamStore() *memStudentExamStore {
	return &memStudentExamStore{studentExams: make(map[uuid.UUID]*model.StudentExam)}
}

func (m *memStudentExamStore) add(se *model.StudentExam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	m.studentExams[se.ID] = se
}

func (m *memStudentExamStore) get(id uuid.UUID) model.StudentExam {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.studentExams[id]
}

func (m *memStudentExamStore) InsertStudentExams(_ context.Context, studentExams []*model.StudentExam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, se := range studentExams {
		se.ID = uuid.New()
		se.CreatedAt = time.Now()
		cp := *se
		m.studentExams[se.ID] = &cp
	}
	return nil
}

func (m *memStudentExamStore) InsertQuizBatchAssignments(_ context.Context, assignments []model.QuizBatchAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, assignments...)
	return nil
}

func (m *memStudentExamStore) DeleteStudentExamsByExam(_ context.Context, examID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, se := range m.studentExams {
		if se.ExamID == examID {
			delete(m.studentExams, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStudentExamStore) GetStudentExam(_ context.Context, id uuid.UUID) (*model.StudentExam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.studentExams[id]
	if !ok {
		return nil, apperr.NotFound("student exam")
	}
	cp := *se
	return &cp, nil
}

func (m *memStudentExamStore) ListStudentExamsByExam(_ context.Context, examID uuid.UUID) ([]model.StudentExam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StudentExam
	for _, se := range m.studentExams {
		if se.ExamID == examID {
			out = append(out, *se)
		}
	}
	return out, nil
}

func (m *memStudentExamStore) ListUserIDsWithStudentExam(_ context.Context, examID uuid.UUID) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, se := range m.studentExams {
		if se.ExamID == examID && !se.TestRun {
			ids = append(ids, se.UserID)
		}
	}
	return ids, nil
}

func (m *memStudentExamStore) RebaseWorkingTimes(_ context.Context, examID uuid.UUID, deltaSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, se := range m.studentExams {
		if se.ExamID == examID && !se.TestRun {
			se.WorkingTime += deltaSeconds
			se.Version++
		}
	}
	return nil
}

func (m *memStudentExamStore) UpdateWorkingTimeCAS(_ context.Context, id uuid.UUID, workingTime int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.studentExams[id]
	if !ok || se.Version != version {
		return false, nil
	}
	se.WorkingTime = workingTime
	se.Version++
	return true, nil
}

func (m *memStudentExamStore) MarkStarted(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.studentExams[id]
	if !ok {
		return apperr.NotFound("student exam")
	}
	if !se.Started {
		se.Started = true
		se.StartedDate = &at
	}
	return nil
}

func (m *memStudentExamStore) MarkSubmitted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.studentExams[id]
	if !ok || se.Submitted {
		return false, nil
	}
	se.Submitted = true
	se.SubmissionDate = &at
	return true, nil
}

func (m *memStudentExamStore) SetSubmittedState(_ context.Context, id uuid.UUID, submitted bool, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.studentExams[id]
	if !ok {
		return apperr.NotFound("student exam")
	}
	se.Submitted = submitted
	se.SubmissionDate = at
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions []repository.ExamSessionRecord
	context  map[uuid.UUID]struct {
		examID  uuid.UUID
		userID  int64
		testRun bool
	}
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{context: make(map[uuid.UUID]struct {
		examID  uuid.UUID
		userID  int64
		testRun bool
	})}
}

func (m *memSessionStore) register(studentExamID, examID uuid.UUID, userID int64, testRun bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context[studentExamID] = struct {
		examID  uuid.UUID
		userID  int64
		testRun bool
	}{examID, userID, testRun}
}

func (m *memSessionStore) InsertSession(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.InitialSession = true
	for _, rec := range m.sessions {
		if rec.StudentExamID == s.StudentExamID {
			s.InitialSession = false
			break
		}
	}
	ctx := m.context[s.StudentExamID]
	m.sessions = append(m.sessions, repository.ExamSessionRecord{
		ExamSession: *s, UserID: ctx.userID, TestRun: ctx.testRun,
	})
	return nil
}

func (m *memSessionStore) ListSessionsByExam(_ context.Context, examID uuid.UUID) ([]repository.ExamSessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ExamSessionRecord
	for _, rec := range m.sessions {
		if m.context[rec.StudentExamID].examID == examID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memResultStore struct {
	mu          sync.Mutex
	results     map[uuid.UUID]*model.Result
	submissions map[uuid.UUID]*model.Submission
	policies    map[uuid.UUID]*model.SubmissionPolicy
}

func newMemResultStore() *memResultStore {
	return &memResultStore{
		results:     make(map[uuid.UUID]*model.Result),
		submissions: make(map[uuid.UUID]*model.Submission),
		policies:    make(map[uuid.UUID]*model.SubmissionPolicy),
	}
}

func (m *memResultStore) addSubmission(s *model.Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.submissions[s.ID] = s
}

func (m *memResultStore) TryInsertOpenResult(_ context.Context, submissionID uuid.UUID, round int, assessorID int64) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.SubmissionID == submissionID && r.CorrectionRound == round && r.CompletionDate == nil {
			return nil, nil
		}
	}
	r := &model.Result{
		ID:              uuid.New(),
		SubmissionID:    submissionID,
		AssessorID:      &assessorID,
		CorrectionRound: round,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	m.results[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *memResultStore) GetOpenResult(_ context.Context, submissionID uuid.UUID, round int) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.SubmissionID == submissionID && r.CorrectionRound == round && r.CompletionDate == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("result")
}

func (m *memResultStore) GetResult(_ context.Context, id uuid.UUID) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, apperr.NotFound("result")
	}
	cp := *r
	return &cp, nil
}

func (m *memResultStore) SaveAssessment(_ context.Context, id uuid.UUID, feedback json.RawMessage, score *float64, completionDate *time.Time) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, apperr.NotFound("result")
	}
	r.Feedback = feedback
	r.Score = score
	r.CompletionDate = completionDate
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *memResultStore) DeleteOpenResult(_ context.Context, submissionID uuid.UUID, round int, assessorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.results {
		if r.SubmissionID == submissionID && r.CorrectionRound == round &&
			r.CompletionDate == nil && r.AssessorID != nil && *r.AssessorID == assessorID {
			delete(m.results, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *memResultStore) DeleteResult(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[id]; !ok {
		return apperr.NotFound("result")
	}
	delete(m.results, id)
	return nil
}

func (m *memResultStore) GetSubmission(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, apperr.NotFound("submission")
	}
	cp := *s
	return &cp, nil
}

func (m *memResultStore) GetSubmissionPolicy(_ context.Context, exerciseID uuid.UUID) (*model.SubmissionPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[exerciseID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memResultStore) CountCountedSubmissions(_ context.Context, participationID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counted := make(map[uuid.UUID]bool)
	for _, r := range m.results {
		if s, ok := m.submissions[r.SubmissionID]; ok && s.ParticipationID == participationID {
			counted[s.ID] = true
		}
	}
	return int64(len(counted)), nil
}

type memUserStore struct {
	mu    sync.Mutex
	roles map[[2]int64]model.Role
}

func newMemUserStore() *memUserStore {
	return &memUserStore{roles: make(map[[2]int64]model.Role)}
}

func (m *memUserStore) grant(userID, courseID int64, role model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[[2]int64{userID, courseID}] = role
}

func (m *memUserStore) GetCourseRole(_ context.Context, userID, courseID int64) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[[2]int64{userID, courseID}], nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []model.AuditAction
}

func (a *recordingAudit) Record(_ context.Context, _ int64, action model.AuditAction, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

type recordingLiveEvents struct {
	mu     sync.Mutex
	events []LiveEvent
}

func (l *recordingLiveEvents) Publish(_ context.Context, event LiveEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

type recordingScheduler struct {
	mu           sync.Mutex
	examIDs      []uuid.UUID
	studentExams []uuid.UUID
}

func (s *recordingScheduler) RescheduleExam(_ context.Context, examID uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examIDs = append(s.examIDs, examID)
	return nil
}

func (s *recordingScheduler) RescheduleStudentExam(_ context.Context, studentExamID uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studentExams = append(s.studentExams, studentExamID)
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[uuid.UUID]bool)}
}

func (l *memLocker) AcquireGenerationLock(_ context.Context, examID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[examID] {
		return nil, apperr.Conflict("GENERATION_IN_PROGRESS", "exam", "already running")
	}
	l.held[examID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, examID)
	}, nil
}
