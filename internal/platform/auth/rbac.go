package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Role is the single role a user account carries.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a string to a known Role. Unknown values return the empty
// Role, which holds no capabilities.
func ParseRole(s string) Role {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Role(s)
	}
	return ""
}

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// Actor is the authenticated identity making a request. Services take it as
// an explicit argument so authorization decisions never depend on ambient
// request state.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// ActorFromContext builds an Actor from the identity stored by the auth
// middleware. A subject that is not a UUID yields the nil UUID, which only
// admin capabilities tolerate.
func ActorFromContext(ctx context.Context) Actor {
	id, _ := uuid.Parse(UserIDFromContext(ctx))
	return Actor{UserID: id, Role: ParseRole(RoleFromContext(ctx))}
}

// CanPublishSlots reports whether the actor may create or remove availability
// slots owned by doctorID.
func (a Actor) CanPublishSlots(doctorID uuid.UUID) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.Role == RoleDoctor && a.UserID == doctorID
}

// CanBook reports whether the actor may claim a slot for patientID. Admins
// may book on a patient's behalf.
func (a Actor) CanBook(patientID uuid.UUID) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.Role == RolePatient && a.UserID == patientID
}

// CanCancelBooking reports whether the actor may cancel a booking held by
// patientID against a slot owned by doctorID.
func (a Actor) CanCancelBooking(patientID, doctorID uuid.UUID) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return a.UserID == patientID
	case RoleDoctor:
		return a.UserID == doctorID
	}
	return false
}

// CanManageBooking reports whether the actor may confirm, complete, or mark a
// booking as a no-show. Only the slot's doctor or an admin may.
func (a Actor) CanManageBooking(doctorID uuid.UUID) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.Role == RoleDoctor && a.UserID == doctorID
}

// CanViewBooking reports whether the actor may read a booking. Participants
// and admins may.
func (a Actor) CanViewBooking(patientID, doctorID uuid.UUID) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.UserID == patientID || a.UserID == doctorID
}

// RequireRole returns middleware that rejects requests whose authenticated
// role is not one of the given roles. Admin passes every check.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor.Role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if actor.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", joinRoles(roles)))
		}
	}
}

func joinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, " or ")
}
