package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrNotMember is returned when a user is not a member of an organization
	ErrNotMember = errors.New("user is not a member of this organization")

	// ErrInsufficientRole is returned when a user's role is below the required level
	ErrInsufficientRole = errors.New("insufficient role")

	// ErrDuplicateMembership is returned when a user already has a membership
	// in the organization
	ErrDuplicateMembership = errors.New("user is already a member of this organization")
)

// Service provides organization, membership, and invitation operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new organization service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// GetByID retrieves an organization by ID
func (s *Service) GetByID(ctx context.Context, orgID uuid.UUID) (*Org, error) {
	var org Org

	query := `
		SELECT id, name, description, created_by_user_id, created_at, updated_at
		FROM orgs
		WHERE id = $1
	`

	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&org.ID,
		&org.Name,
		&org.Description,
		&org.CreatedByUserID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// ListUserOrgs retrieves all organizations the user belongs to, with their roles.
// Visibility is the membership join itself: rows outside the user's
// organizations are never returned.
func (s *Service) ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]OrgWithRole, error) {
	query := `
		SELECT o.id, o.name, o.description, o.created_by_user_id, o.created_at, o.updated_at, m.role
		FROM orgs o
		INNER JOIN org_memberships m ON o.id = m.org_id
		WHERE m.user_id = $1
		ORDER BY o.created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orgs: %w", err)
	}
	defer rows.Close()

	var result []OrgWithRole
	for rows.Next() {
		var org OrgWithRole
		err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Description,
			&org.CreatedByUserID,
			&org.CreatedAt,
			&org.UpdatedAt,
			&org.Role,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		result = append(result, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating org rows: %w", err)
	}

	return result, nil
}

// CreateOrganization creates a new organization and makes the creator its
// first ADMIN. Both writes happen in one transaction: no organization ever
// exists without an admin.
func (s *Service) CreateOrganization(ctx context.Context, name, description string, creatorUserID uuid.UUID) (*Org, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var org Org
	query := `
		INSERT INTO orgs (name, description, created_by_user_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, created_by_user_id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query, name, description, creatorUserID).Scan(
		&org.ID,
		&org.Name,
		&org.Description,
		&org.CreatedByUserID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	memberQuery := `
		INSERT INTO org_memberships (org_id, user_id, role)
		VALUES ($1, $2, $3)
	`

	if _, err := tx.Exec(ctx, memberQuery, org.ID, creatorUserID, RoleAdmin); err != nil {
		return nil, fmt.Errorf("failed to create admin membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &org, nil
}

// AddMember inserts a membership row directly. Normal onboarding goes
// through the invitation flow; this is the raw insert behind it.
func (s *Service) AddMember(ctx context.Context, orgID, userID uuid.UUID, role Role) (*Membership, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var m Membership
	err := s.pool.QueryRow(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING id, org_id, user_id, role, created_at, updated_at
	`, orgID, userID, role).Scan(&m.ID, &m.OrgID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, ErrDuplicateMembership
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return &m, nil
}

// ListMembers retrieves all members of an organization
func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID) ([]MemberInfo, error) {
	query := `
		SELECT m.id, m.user_id, u.email, m.role, m.created_at
		FROM org_memberships m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.org_id = $1
		ORDER BY m.created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []MemberInfo
	for rows.Next() {
		var member MemberInfo
		err := rows.Scan(
			&member.MembershipID,
			&member.UserID,
			&member.Email,
			&member.Role,
			&member.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

// GetRole retrieves a user's role in an organization.
// Returns ErrNotMember if the user is not a member.
func (s *Service) GetRole(ctx context.Context, orgID, userID uuid.UUID) (Role, error) {
	var role Role

	query := `
		SELECT role FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`

	err := s.pool.QueryRow(ctx, query, orgID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to get org role: %w", err)
	}

	return role, nil
}

// RequireRole verifies that a user holds at least minRole in an organization.
// It is the single authorization gate consulted by every protected handler.
// Returns the user's actual role on success, ErrNotMember if they do not
// belong to the organization, and ErrInsufficientRole if their role is below
// minRole. Read-only and safe to call repeatedly.
func (s *Service) RequireRole(ctx context.Context, orgID, userID uuid.UUID, minRole Role) (Role, error) {
	role, err := s.GetRole(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			log.Debug().
				Str("user_id", userID.String()).
				Str("org_id", orgID.String()).
				Msg("RBAC: user is not a member of organization")
		}
		return "", err
	}

	if !role.AtLeast(minRole) {
		log.Warn().
			Str("user_id", userID.String()).
			Str("org_id", orgID.String()).
			Str("user_role", string(role)).
			Str("required_role", string(minRole)).
			Msg("RBAC: insufficient role")
		return role, ErrInsufficientRole
	}

	return role, nil
}

// IsMember reports whether the user holds at least minRole in the organization.
// Boolean form of RequireRole for callers that only need the gate.
func (s *Service) IsMember(ctx context.Context, orgID, userID uuid.UUID, minRole Role) (bool, error) {
	_, err := s.RequireRole(ctx, orgID, userID, minRole)
	if err != nil {
		if errors.Is(err, ErrNotMember) || errors.Is(err, ErrInsufficientRole) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
