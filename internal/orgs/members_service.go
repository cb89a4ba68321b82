package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// lockedAdminCount locks every ADMIN membership row of the organization and
// returns how many there are. Locking the full admin set makes the
// last-admin check atomic against concurrent demotions and removals: two
// transactions racing on the same organization serialize here. Rows are
// locked in id order, and callers lock this set before the target row, so
// concurrent mutations in the same organization never deadlock.
func lockedAdminCount(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT id
		FROM org_memberships
		WHERE org_id = $1 AND role = $2
		ORDER BY id
		FOR UPDATE
	`, orgID, RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("failed to lock admin memberships: %w", err)
	}
	defer rows.Close()

	var admins int
	for rows.Next() {
		admins++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to lock admin memberships: %w", err)
	}
	return admins, nil
}

// UpdateMemberRole changes the role of the membership identified by
// membershipID. The actor must be an ADMIN of the membership's organization,
// and the change must not demote the organization's last admin.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, membershipID, actorUserID uuid.UUID, newRole Role) (previousRole Role, err error) {
	if !newRole.IsValid() {
		return "", ErrInvalidRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var actorRole Role
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, actorUserID).Scan(&actorRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to load actor role: %w", err)
	}
	if !actorRole.AtLeast(RoleAdmin) {
		return "", ErrInsufficientRole
	}

	admins, err := lockedAdminCount(ctx, tx, orgID)
	if err != nil {
		return "", err
	}

	var currentRole Role
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, membershipID, orgID).Scan(&currentRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMembershipNotFound
		}
		return "", fmt.Errorf("failed to load member role: %w", err)
	}

	if currentRole == RoleAdmin && newRole != RoleAdmin && admins <= 1 {
		return "", ErrLastAdmin
	}

	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships
		SET role = $2, updated_at = NOW()
		WHERE id = $1
	`, membershipID, newRole); err != nil {
		return "", fmt.Errorf("failed to update member role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return currentRole, nil
}

// RemoveMember deletes the membership identified by membershipID. The actor
// must be an ADMIN of the membership's organization. Removing the sole
// remaining admin fails with ErrLastAdmin, including an admin removing
// themselves.
func (s *Service) RemoveMember(ctx context.Context, orgID, membershipID, actorUserID uuid.UUID) (removedRole Role, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var actorRole Role
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, actorUserID).Scan(&actorRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to load actor role: %w", err)
	}
	if !actorRole.AtLeast(RoleAdmin) {
		return "", ErrInsufficientRole
	}

	admins, err := lockedAdminCount(ctx, tx, orgID)
	if err != nil {
		return "", err
	}

	var targetRole Role
	if err := tx.QueryRow(ctx, `
		SELECT role
		FROM org_memberships
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, membershipID, orgID).Scan(&targetRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMembershipNotFound
		}
		return "", fmt.Errorf("failed to load member role: %w", err)
	}

	if targetRole == RoleAdmin && admins <= 1 {
		return "", ErrLastAdmin
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM org_memberships
		WHERE id = $1
	`, membershipID)
	if err != nil {
		return "", fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrMembershipNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return targetRole, nil
}
