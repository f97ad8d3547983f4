package service

import (
	"context"
	"fmt"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

// Authorizer resolves per-course roles for capability checks. Every
// mutating operation goes through RequireRole before touching state.
type Authorizer struct {
	users UserStore
}

// NewAuthorizer creates a new Authorizer.
func NewAuthorizer(users UserStore) *Authorizer {
	return &Authorizer{users: users}
}

// RequireRole checks that the user holds at least min in the course.
func (a *Authorizer) RequireRole(ctx context.Context, userID, courseID int64, min model.Role) error {
	role, err := a.users.GetCourseRole(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("resolve course role: %w", err)
	}
	if role == "" || !role.AtLeast(min) {
		return apperr.Forbidden("insufficient course role")
	}
	return nil
}
