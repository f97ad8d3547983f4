package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamSession fingerprints one conduction or resume interaction.
// Rows are immutable after creation; initial_session is derived at
// insert time from the prior session count.
type ExamSession struct {
	ID                 uuid.UUID `json:"id"`
	StudentExamID      uuid.UUID `json:"student_exam_id"`
	SessionToken       string    `json:"session_token"`
	IPAddress          *string   `json:"ip_address,omitempty"`
	BrowserFingerprint *string   `json:"browser_fingerprint,omitempty"`
	InstanceID         *string   `json:"instance_id,omitempty"`
	UserAgent          *string   `json:"user_agent,omitempty"`
	InitialSession     bool      `json:"initial_session"`
	CreatedAt          time.Time `json:"created_at"`
}

// SuspiciousReason explains why a session (or pair of student exams)
// was flagged by the monitor.
type SuspiciousReason string

const (
	ReasonDifferentStudentExamsSameIP          SuspiciousReason = "DIFFERENT_STUDENT_EXAMS_SAME_IP_ADDRESS"
	ReasonDifferentStudentExamsSameFingerprint SuspiciousReason = "DIFFERENT_STUDENT_EXAMS_SAME_BROWSER_FINGERPRINT"
	ReasonSameStudentExamDifferentIPs          SuspiciousReason = "SAME_STUDENT_EXAM_DIFFERENT_IP_ADDRESSES"
	ReasonSameStudentExamDifferentFingerprints SuspiciousReason = "SAME_STUDENT_EXAM_DIFFERENT_BROWSER_FINGERPRINTS"
	ReasonIPOutsideRange                       SuspiciousReason = "IP_ADDRESS_OUTSIDE_OF_RANGE"
)

// AnalysisOptions independently toggles the five suspicious-session
// checks. All enabled checks run over the same session dataset in one
// call.
type AnalysisOptions struct {
	SameIPDifferentStudentExams          bool
	SameFingerprintDifferentStudentExams bool
	DifferentIPsSameStudentExam          bool
	DifferentFingerprintsSameStudentExam bool
	IPOutsideRange                       bool
}

// Any reports whether at least one check is enabled.
func (o AnalysisOptions) Any() bool {
	return o.SameIPDifferentStudentExams || o.SameFingerprintDifferentStudentExams ||
		o.DifferentIPsSameStudentExam || o.DifferentFingerprintsSameStudentExam || o.IPOutsideRange
}

// SuspiciousSessionPair is one finding. For cross-exam checks both
// student exam ids are set and ordered canonically (A < B) so that
// (A,B) and (B,A) collapse into one finding. For single-exam and subnet
// findings StudentExamB is uuid.Nil.
type SuspiciousSessionPair struct {
	Reason       SuspiciousReason `json:"reason"`
	StudentExamA uuid.UUID        `json:"student_exam_a"`
	StudentExamB uuid.UUID        `json:"student_exam_b,omitempty"`
	SharedValue  string           `json:"shared_value,omitempty"` // the common IP / fingerprint
	SessionIDs   []uuid.UUID      `json:"session_ids,omitempty"`  // sessions backing the finding
}

// Canonicalize orders the pair so StudentExamA < StudentExamB.
func (p *SuspiciousSessionPair) Canonicalize() {
	if p.StudentExamB != uuid.Nil && p.StudentExamB.String() < p.StudentExamA.String() {
		p.StudentExamA, p.StudentExamB = p.StudentExamB, p.StudentExamA
	}
}

// Key identifies a finding for deduplication.
func (p *SuspiciousSessionPair) Key() string {
	return string(p.Reason) + "|" + p.StudentExamA.String() + "|" + p.StudentExamB.String() + "|" + p.SharedValue
}
