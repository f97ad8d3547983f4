package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/netip"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
)

// SessionMeta carries the client fingerprint captured on each
// conduction start or resume. All fields are optional; absent values
// simply cannot contribute to the suspicious-session checks.
type SessionMeta struct {
	IPAddress          *string
	BrowserFingerprint *string
	InstanceID         *string
	UserAgent          *string
}

// SessionMonitorService records exam sessions and runs the
// suspicious-session analysis over them. Test-run sessions are stored
// but never analyzed.
type SessionMonitorService struct {
	exams    ExamStore
	sessions SessionStore
	authz    *Authorizer
	log      zerolog.Logger
}

// NewSessionMonitorService creates a new SessionMonitorService.
func NewSessionMonitorService(exams ExamStore, sessions SessionStore, authz *Authorizer, log zerolog.Logger) *SessionMonitorService {
	return &SessionMonitorService{
		exams:    exams,
		sessions: sessions,
		authz:    authz,
		log:      log.With().Str("service", "session_monitor").Logger(),
	}
}

// RecordSession appends a session row for a conduction start or resume.
func (s *SessionMonitorService) RecordSession(ctx context.Context, studentExamID uuid.UUID, meta SessionMeta) (*model.ExamSession, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	session := &model.ExamSession{
		StudentExamID:      studentExamID,
		SessionToken:       token,
		IPAddress:          meta.IPAddress,
		BrowserFingerprint: meta.BrowserFingerprint,
		InstanceID:         meta.InstanceID,
		UserAgent:          meta.UserAgent,
	}
	if err := s.sessions.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("insert exam session: %w", err)
	}
	return session, nil
}

// DetectSuspiciousSessions runs the enabled checks over all non-test-run
// sessions of an exam and returns deduplicated findings in a stable
// order. The subnet check requires ipSubnet in CIDR notation.
func (s *SessionMonitorService) DetectSuspiciousSessions(ctx context.Context, actorID int64, examID uuid.UUID, opts model.AnalysisOptions, ipSubnet *string) ([]model.SuspiciousSessionPair, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireRole(ctx, actorID, exam.CourseID, model.RoleInstructor); err != nil {
		return nil, err
	}
	if !opts.Any() {
		return nil, nil
	}

	var prefix netip.Prefix
	if opts.IPOutsideRange {
		if ipSubnet == nil || *ipSubnet == "" {
			return nil, apperr.Validation("IP_SUBNET_REQUIRED", "analysis", "ip_subnet",
				"the subnet check needs a CIDR subnet")
		}
		prefix, err = netip.ParsePrefix(*ipSubnet)
		if err != nil {
			return nil, apperr.Validation("IP_SUBNET_INVALID", "analysis", "ip_subnet",
				fmt.Sprintf("invalid CIDR subnet %q", *ipSubnet))
		}
	}

	all, err := s.sessions.ListSessionsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam sessions: %w", err)
	}
	records := make([]repository.ExamSessionRecord, 0, len(all))
	for _, rec := range all {
		if !rec.TestRun {
			records = append(records, rec)
		}
	}

	var findings []model.SuspiciousSessionPair
	if opts.SameIPDifferentStudentExams {
		findings = append(findings, crossExamMatches(records, ipOf, model.ReasonDifferentStudentExamsSameIP)...)
	}
	if opts.SameFingerprintDifferentStudentExams {
		findings = append(findings, crossExamMatches(records, fingerprintOf, model.ReasonDifferentStudentExamsSameFingerprint)...)
	}
	if opts.DifferentIPsSameStudentExam {
		findings = append(findings, intraExamMismatches(records, ipOf, model.ReasonSameStudentExamDifferentIPs)...)
	}
	if opts.DifferentFingerprintsSameStudentExam {
		findings = append(findings, intraExamMismatches(records, fingerprintOf, model.ReasonSameStudentExamDifferentFingerprints)...)
	}
	if opts.IPOutsideRange {
		findings = append(findings, outsideSubnet(records, prefix)...)
	}

	deduped := dedupeFindings(findings)
	s.log.Info().Str("exam_id", examID.String()).
		Int("sessions", len(records)).Int("findings", len(deduped)).
		Msg("suspicious session analysis completed")
	return deduped, nil
}

func ipOf(rec repository.ExamSessionRecord) *string          { return rec.IPAddress }
func fingerprintOf(rec repository.ExamSessionRecord) *string { return rec.BrowserFingerprint }

// crossExamMatches flags pairs of different student exams that share
// the same IP or fingerprint value.
func crossExamMatches(records []repository.ExamSessionRecord, valueOf func(repository.ExamSessionRecord) *string, reason model.SuspiciousReason) []model.SuspiciousSessionPair {
	type group struct {
		order    []uuid.UUID
		sessions map[uuid.UUID][]uuid.UUID
	}
	byValue := make(map[string]*group)
	for _, rec := range records {
		v := valueOf(rec)
		if v == nil || *v == "" {
			continue
		}
		g, ok := byValue[*v]
		if !ok {
			g = &group{sessions: make(map[uuid.UUID][]uuid.UUID)}
			byValue[*v] = g
		}
		if _, seen := g.sessions[rec.StudentExamID]; !seen {
			g.order = append(g.order, rec.StudentExamID)
		}
		g.sessions[rec.StudentExamID] = append(g.sessions[rec.StudentExamID], rec.ExamSession.ID)
	}

	var findings []model.SuspiciousSessionPair
	for value, g := range byValue {
		for i := 0; i < len(g.order); i++ {
			for j := i + 1; j < len(g.order); j++ {
				a, b := g.order[i], g.order[j]
				p := model.SuspiciousSessionPair{
					Reason:       reason,
					StudentExamA: a,
					StudentExamB: b,
					SharedValue:  value,
					SessionIDs:   append(append([]uuid.UUID{}, g.sessions[a]...), g.sessions[b]...),
				}
				p.Canonicalize()
				findings = append(findings, p)
			}
		}
	}
	return findings
}

// intraExamMismatches flags single student exams whose sessions carry
// two or more distinct IP or fingerprint values.
func intraExamMismatches(records []repository.ExamSessionRecord, valueOf func(repository.ExamSessionRecord) *string, reason model.SuspiciousReason) []model.SuspiciousSessionPair {
	type group struct {
		values   map[string]bool
		sessions []uuid.UUID
	}
	byStudentExam := make(map[uuid.UUID]*group)
	var order []uuid.UUID
	for _, rec := range records {
		v := valueOf(rec)
		if v == nil || *v == "" {
			continue
		}
		g, ok := byStudentExam[rec.StudentExamID]
		if !ok {
			g = &group{values: make(map[string]bool)}
			byStudentExam[rec.StudentExamID] = g
			order = append(order, rec.StudentExamID)
		}
		g.values[*v] = true
		g.sessions = append(g.sessions, rec.ExamSession.ID)
	}

	var findings []model.SuspiciousSessionPair
	for _, id := range order {
		g := byStudentExam[id]
		if len(g.values) < 2 {
			continue
		}
		findings = append(findings, model.SuspiciousSessionPair{
			Reason:       reason,
			StudentExamA: id,
			SessionIDs:   g.sessions,
		})
	}
	return findings
}

// outsideSubnet flags student exams with sessions whose IP does not
// belong to the allowed subnet. Addresses of a different family than
// the subnet cannot be checked and are not flagged.
func outsideSubnet(records []repository.ExamSessionRecord, prefix netip.Prefix) []model.SuspiciousSessionPair {
	type group struct {
		sessions []uuid.UUID
	}
	byStudentExam := make(map[uuid.UUID]*group)
	var order []uuid.UUID
	for _, rec := range records {
		if rec.IPAddress == nil || *rec.IPAddress == "" {
			continue
		}
		addr, err := netip.ParseAddr(*rec.IPAddress)
		if err != nil {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() != prefix.Addr().Is4() {
			continue
		}
		if prefix.Contains(addr) {
			continue
		}
		g, ok := byStudentExam[rec.StudentExamID]
		if !ok {
			g = &group{}
			byStudentExam[rec.StudentExamID] = g
			order = append(order, rec.StudentExamID)
		}
		g.sessions = append(g.sessions, rec.ExamSession.ID)
	}

	findings := make([]model.SuspiciousSessionPair, 0, len(order))
	for _, id := range order {
		findings = append(findings, model.SuspiciousSessionPair{
			Reason:       model.ReasonIPOutsideRange,
			StudentExamA: id,
			SharedValue:  prefix.String(),
			SessionIDs:   byStudentExam[id].sessions,
		})
	}
	return findings
}

func dedupeFindings(findings []model.SuspiciousSessionPair) []model.SuspiciousSessionPair {
	seen := make(map[string]bool, len(findings))
	out := make([]model.SuspiciousSessionPair, 0, len(findings))
	for _, f := range findings {
		key := f.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// newSessionToken returns a 16 character URL-safe random token.
func newSessionToken() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
