package orgs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the lifecycle state of an invitation.
// PENDING is the only state that can transition; ACCEPTED and DECLINED
// are terminal.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

// CanTransition reports whether an invitation in this status may move to next.
func (s InvitationStatus) CanTransition(next InvitationStatus) bool {
	if s != InvitationPending {
		return false
	}
	return next == InvitationAccepted || next == InvitationDeclined
}

var (
	ErrInvalidRole = errors.New("invalid organization role")

	// ErrInvalidEmail is returned when an invitee email fails validation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvitationNotFound is returned when no invitation exists with the given ID.
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrInvitationSettled is returned when an invitation was already
	// accepted or declined.
	ErrInvitationSettled = errors.New("invitation already accepted or declined")

	// ErrInvitationEmailMismatch is returned when the acting user's email
	// does not match the invitee email.
	ErrInvitationEmailMismatch = errors.New("invitation email does not match user")
)

// Invitation represents a pending offer of membership, addressed by email.
type Invitation struct {
	ID              uuid.UUID        `db:"id"`
	OrgID           uuid.UUID        `db:"org_id"`
	Email           string           `db:"email"`
	Role            Role             `db:"role"`
	Status          InvitationStatus `db:"status"`
	InvitedByUserID uuid.UUID        `db:"invited_by_user_id"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// InvitationListItem is an invitation row joined with the inviter's email.
type InvitationListItem struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	OrgID          uuid.UUID        `db:"org_id" json:"org_id"`
	Email          string           `db:"email" json:"email"`
	Role           Role             `db:"role" json:"role"`
	Status         InvitationStatus `db:"status" json:"status"`
	InvitedByEmail string           `db:"invited_by_email" json:"invited_by_email"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
