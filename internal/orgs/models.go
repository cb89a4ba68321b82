package orgs

import (
	"time"

	"github.com/google/uuid"
)

// Org represents an organization in the system
type Org struct {
	ID              uuid.UUID `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	CreatedByUserID uuid.UUID `db:"created_by_user_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Membership represents a user's membership in an organization
type Membership struct {
	ID        uuid.UUID `db:"id"`
	OrgID     uuid.UUID `db:"org_id"`
	UserID    uuid.UUID `db:"user_id"`
	Role      Role      `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrgWithRole combines org information with the requesting user's role
type OrgWithRole struct {
	Org
	Role Role `db:"role"`
}

// MemberInfo represents a member of an organization with their details
type MemberInfo struct {
	MembershipID uuid.UUID `db:"id" json:"membership_id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Email        string    `db:"email" json:"email"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
