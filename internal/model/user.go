package model

import "time"

// Role is a per-course capability level. Roles are strictly ordered:
// instructor > tutor > student.
type Role string

const (
	RoleStudent    Role = "student"
	RoleTutor      Role = "tutor"
	RoleInstructor Role = "instructor"
)

// AtLeast reports whether r grants at least the capabilities of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank(r) >= roleRank(other)
}

func roleRank(r Role) int {
	switch r {
	case RoleInstructor:
		return 3
	case RoleTutor:
		return 2
	case RoleStudent:
		return 1
	default:
		return 0
	}
}

// User represents an account (student, tutor, or instructor).
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Course owns exams. Exams keep only a weak reference back to it.
type Course struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	ShortName string `json:"short_name"`
}
