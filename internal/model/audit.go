package model

import (
	"encoding/json"
	"time"
)

// AuditAction enumerates administrative actions that bypass the normal
// conduction flow and therefore must leave a trail.
type AuditAction string

const (
	AuditGenerateStudentExams AuditAction = "GENERATE_STUDENT_EXAMS"
	AuditExamWorkingTime      AuditAction = "EXAM_WORKING_TIME_CHANGE"
	AuditIndividualTime       AuditAction = "STUDENT_EXAM_WORKING_TIME_CHANGE"
	AuditToggleSubmitted      AuditAction = "TOGGLE_SUBMITTED_STATE"
	AuditDeleteAssessment     AuditAction = "DELETE_ASSESSMENT"
)

// AuditEvent records who did what, when, with free-form details.
type AuditEvent struct {
	ID        int64           `json:"id"`
	ActorID   int64           `json:"actor_id"`
	Action    AuditAction     `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
