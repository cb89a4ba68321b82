package orgs

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func normalizeInviteEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidEmail)
	}
	if len(email) > 320 {
		return "", fmt.Errorf("%w: email is too long", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// CreateInvitation creates a PENDING invitation addressed to email. The actor
// must be an ADMIN of the organization. Multiple pending invitations to the
// same email are permitted; each is an independent offer.
func (s *Service) CreateInvitation(ctx context.Context, orgID, actorUserID uuid.UUID, email string, role Role) (*Invitation, error) {
	email, err := normalizeInviteEmail(email)
	if err != nil {
		return nil, err
	}

	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	if _, err := s.RequireRole(ctx, orgID, actorUserID, RoleAdmin); err != nil {
		return nil, err
	}

	var inv Invitation
	err = s.pool.QueryRow(ctx, `
		INSERT INTO org_invitations (org_id, email, role, invited_by_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, org_id, email, role, status, invited_by_user_id, created_at, updated_at
	`, orgID, email, role, actorUserID).Scan(
		&inv.ID,
		&inv.OrgID,
		&inv.Email,
		&inv.Role,
		&inv.Status,
		&inv.InvitedByUserID,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return &inv, nil
}

// ListOrgInvitations returns the pending invitations of an organization.
// The actor must be an ADMIN.
func (s *Service) ListOrgInvitations(ctx context.Context, orgID, actorUserID uuid.UUID) ([]InvitationListItem, error) {
	if _, err := s.RequireRole(ctx, orgID, actorUserID, RoleAdmin); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.org_id, i.email, i.role, i.status, u.email AS invited_by_email, i.created_at
		FROM org_invitations i
		INNER JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.org_id = $1
		  AND i.status = $2
		ORDER BY i.created_at DESC
	`, orgID, InvitationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	return scanInvitationList(rows)
}

// ListInvitationsForUser returns the pending invitations addressed to the
// user's own email. This is the only read path that lets a user see rows from
// organizations they do not belong to.
func (s *Service) ListInvitationsForUser(ctx context.Context, userID uuid.UUID) ([]InvitationListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.org_id, i.email, i.role, i.status, u.email AS invited_by_email, i.created_at
		FROM org_invitations i
		INNER JOIN users u ON u.id = i.invited_by_user_id
		WHERE LOWER(i.email) = (SELECT LOWER(email) FROM users WHERE id = $1)
		  AND i.status = $2
		ORDER BY i.created_at DESC
	`, userID, InvitationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	return scanInvitationList(rows)
}

func scanInvitationList(rows pgx.Rows) ([]InvitationListItem, error) {
	var invitations []InvitationListItem
	for rows.Next() {
		var inv InvitationListItem
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.Status, &inv.InvitedByEmail, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return invitations, nil
}

// AcceptInvitation accepts a pending invitation on behalf of userID. The
// user's email must match the invitee email. On success the user gains a
// membership at the invited role; an existing membership has its role
// overwritten. The pending check and the status transition share one
// transaction, so two concurrent accepts cannot both succeed.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID, userID uuid.UUID) (orgID uuid.UUID, role Role, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inv, err := loadInvitationForUpdate(ctx, tx, invitationID, InvitationAccepted)
	if err != nil {
		return uuid.Nil, "", err
	}

	if err := matchInviteeEmail(ctx, tx, inv, userID); err != nil {
		return uuid.Nil, "", err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, updated_at = NOW()
	`, inv.OrgID, userID, inv.Role)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to upsert membership: %w", err)
	}

	if err := settleInvitation(ctx, tx, inv.ID, InvitationAccepted); err != nil {
		return uuid.Nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inv.OrgID, inv.Role, nil
}

// DeclineInvitation declines a pending invitation on behalf of userID. The
// user's email must match the invitee email. No membership is created.
func (s *Service) DeclineInvitation(ctx context.Context, invitationID, userID uuid.UUID) (orgID uuid.UUID, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inv, err := loadInvitationForUpdate(ctx, tx, invitationID, InvitationDeclined)
	if err != nil {
		return uuid.Nil, err
	}

	if err := matchInviteeEmail(ctx, tx, inv, userID); err != nil {
		return uuid.Nil, err
	}

	if err := settleInvitation(ctx, tx, inv.ID, InvitationDeclined); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inv.OrgID, nil
}

// loadInvitationForUpdate locks the invitation row and verifies it can still
// move to next.
func loadInvitationForUpdate(ctx context.Context, tx pgx.Tx, invitationID uuid.UUID, next InvitationStatus) (*Invitation, error) {
	var inv Invitation
	err := tx.QueryRow(ctx, `
		SELECT id, org_id, email, role, status, invited_by_user_id, created_at, updated_at
		FROM org_invitations
		WHERE id = $1
		FOR UPDATE
	`, invitationID).Scan(
		&inv.ID,
		&inv.OrgID,
		&inv.Email,
		&inv.Role,
		&inv.Status,
		&inv.InvitedByUserID,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if !inv.Status.CanTransition(next) {
		return nil, ErrInvitationSettled
	}

	return &inv, nil
}

// matchInviteeEmail verifies the acting user's email matches the invitee
// email, case-insensitively. A user row that no longer exists (deleted
// account with a still-valid session) cannot prove the invitee identity.
func matchInviteeEmail(ctx context.Context, tx pgx.Tx, inv *Invitation, userID uuid.UUID) error {
	var userEmail string
	err := tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&userEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvitationEmailMismatch
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !strings.EqualFold(userEmail, inv.Email) {
		return ErrInvitationEmailMismatch
	}
	return nil
}

// settleInvitation moves the invitation out of PENDING. The status predicate
// in the UPDATE makes the transition a compare-and-swap even if the row lock
// were ever bypassed.
func settleInvitation(ctx context.Context, tx pgx.Tx, invitationID uuid.UUID, status InvitationStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE org_invitations
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = $3
	`, invitationID, status, InvitationPending)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvitationSettled
	}
	return nil
}
