package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ebaird/cairn/internal/orgs"
	"github.com/ebaird/cairn/internal/retention"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func insertUser(t *testing.T, pool *pgxpool.Pool, email string) uuid.UUID {
	t.Helper()

	userID := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
	`, userID, email, "not-a-real-hash")
	require.NoError(t, err)

	return userID
}

func membershipID(t *testing.T, pool *pgxpool.Pool, orgID, userID uuid.UUID) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(context.Background(), `
		SELECT id FROM org_memberships WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&id)
	require.NoError(t, err)

	return id
}

func adminCount(t *testing.T, pool *pgxpool.Pool, orgID uuid.UUID) int {
	t.Helper()

	var n int
	err := pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM org_memberships WHERE org_id = $1 AND role = 'ADMIN'
	`, orgID).Scan(&n)
	require.NoError(t, err)

	return n
}

func TestService_ConcurrentAdminRemoval_KeepsOneAdmin(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Two Admins", "", alice)
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, org.ID, bob, orgs.RoleAdmin)
	require.NoError(t, err)

	aliceMembership := membershipID(t, pool, org.ID, alice)
	bobMembership := membershipID(t, pool, org.ID, bob)

	// Each admin tries to remove the other at the same time. The row locks
	// serialize the two transactions, so exactly one removal commits and the
	// loser hits the last-admin guard (or finds itself already removed).
	var wg sync.WaitGroup
	results := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = svc.RemoveMember(ctx, org.ID, bobMembership, alice)
	}()
	go func() {
		defer wg.Done()
		_, results[1] = svc.RemoveMember(ctx, org.ID, aliceMembership, bob)
	}()
	wg.Wait()

	var succeeded, failed int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		failed++
		require.True(t,
			errors.Is(err, orgs.ErrLastAdmin) || errors.Is(err, orgs.ErrNotMember),
			"unexpected removal error: %v", err)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)
	require.Equal(t, 1, adminCount(t, pool, org.ID))
}

func TestService_LastAdminGuard(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Solo Admin", "", alice)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, org.ID, bob, orgs.RoleEditor)
	require.NoError(t, err)

	aliceMembership := membershipID(t, pool, org.ID, alice)
	bobMembership := membershipID(t, pool, org.ID, bob)

	_, err = svc.UpdateMemberRole(ctx, org.ID, aliceMembership, alice, orgs.RoleEditor)
	require.ErrorIs(t, err, orgs.ErrLastAdmin)

	_, err = svc.RemoveMember(ctx, org.ID, aliceMembership, alice)
	require.ErrorIs(t, err, orgs.ErrLastAdmin)

	// Demoting or removing a non-admin is always fine.
	prev, err := svc.UpdateMemberRole(ctx, org.ID, bobMembership, alice, orgs.RoleViewer)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleEditor, prev)

	removed, err := svc.RemoveMember(ctx, org.ID, bobMembership, alice)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleViewer, removed)

	// Once a second admin exists the guard no longer applies to the first.
	_, err = svc.AddMember(ctx, org.ID, bob, orgs.RoleAdmin)
	require.NoError(t, err)
	prev, err = svc.UpdateMemberRole(ctx, org.ID, aliceMembership, alice, orgs.RoleViewer)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleAdmin, prev)
}

func TestService_MembershipScopedToOrg(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	orgA, err := svc.CreateOrganization(ctx, "Org A", "", alice)
	require.NoError(t, err)
	orgB, err := svc.CreateOrganization(ctx, "Org B", "", alice)
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, orgA.ID, bob, orgs.RoleEditor)
	require.NoError(t, err)
	bobInA := membershipID(t, pool, orgA.ID, bob)

	// A membership id from another org resolves to not-found, never to a
	// cross-org mutation.
	_, err = svc.UpdateMemberRole(ctx, orgB.ID, bobInA, alice, orgs.RoleViewer)
	require.ErrorIs(t, err, orgs.ErrMembershipNotFound)

	_, err = svc.RemoveMember(ctx, orgB.ID, bobInA, alice)
	require.ErrorIs(t, err, orgs.ErrMembershipNotFound)

	role, err := svc.GetRole(ctx, orgA.ID, bob)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleEditor, role)
}

func TestService_DuplicateMembership(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Org", "", alice)
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, org.ID, bob, orgs.RoleViewer)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, org.ID, bob, orgs.RoleEditor)
	require.ErrorIs(t, err, orgs.ErrDuplicateMembership)

	// The original row is untouched.
	role, err := svc.GetRole(ctx, org.ID, bob)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleViewer, role)
}

func TestService_AcceptInvitation_EmailMatchAndRoleOverwrite(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")
	carol := insertUser(t, pool, "carol@example.com")

	org, err := svc.CreateOrganization(ctx, "Org", "", alice)
	require.NoError(t, err)

	// Email comparison ignores case.
	inv, err := svc.CreateInvitation(ctx, org.ID, alice, "Bob@Example.COM", orgs.RoleViewer)
	require.NoError(t, err)

	_, _, err = svc.AcceptInvitation(ctx, inv.ID, carol)
	require.ErrorIs(t, err, orgs.ErrInvitationEmailMismatch)

	orgID, role, err := svc.AcceptInvitation(ctx, inv.ID, bob)
	require.NoError(t, err)
	require.Equal(t, org.ID, orgID)
	require.Equal(t, orgs.RoleViewer, role)

	// Accepting a second invitation replaces the existing membership role.
	promo, err := svc.CreateInvitation(ctx, org.ID, alice, "bob@example.com", orgs.RoleEditor)
	require.NoError(t, err)
	_, role, err = svc.AcceptInvitation(ctx, promo.ID, bob)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleEditor, role)

	got, err := svc.GetRole(ctx, org.ID, bob)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleEditor, got)

	// Exactly one membership row regardless of how many invitations settled.
	var n int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM org_memberships WHERE org_id = $1 AND user_id = $2
	`, org.ID, bob).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Settled invitations cannot be reused.
	_, _, err = svc.AcceptInvitation(ctx, inv.ID, bob)
	require.ErrorIs(t, err, orgs.ErrInvitationSettled)
	_, err = svc.DeclineInvitation(ctx, inv.ID, bob)
	require.ErrorIs(t, err, orgs.ErrInvitationSettled)
}

func TestStore_UserEmailUniqueIgnoresCase(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	insertUser(t, pool, "dana@example.com")

	// Emails are matched case-insensitively on login and invitation accept,
	// so the store must reject a second registration differing only in case.
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
	`, uuid.New(), "Dana@Example.COM", "not-a-real-hash")

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "23505", pgErr.Code)
}

func TestService_ConcurrentInvitationAccept_SettlesOnce(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Org", "", alice)
	require.NoError(t, err)

	inv, err := svc.CreateInvitation(ctx, org.ID, alice, "bob@example.com", orgs.RoleViewer)
	require.NoError(t, err)

	// Two accepts of the same invitation race. The row lock serializes them
	// and the loser finds the invitation already accepted.
	var wg sync.WaitGroup
	results := make([]error, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = svc.AcceptInvitation(ctx, inv.ID, bob)
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		failed++
		require.ErrorIs(t, err, orgs.ErrInvitationSettled)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)

	var status orgs.InvitationStatus
	err = pool.QueryRow(ctx, `
		SELECT status FROM org_invitations WHERE id = $1
	`, inv.ID).Scan(&status)
	require.NoError(t, err)
	require.Equal(t, orgs.InvitationAccepted, status)

	var n int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM org_memberships WHERE org_id = $1 AND user_id = $2
	`, org.ID, bob).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestService_AcceptInvitation_DeletedUser(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Org", "", alice)
	require.NoError(t, err)

	inv, err := svc.CreateInvitation(ctx, org.ID, alice, "bob@example.com", orgs.RoleViewer)
	require.NoError(t, err)

	// A session can outlive its account. A vanished principal cannot prove
	// the invitee identity, and the invitation stays claimable.
	_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, bob)
	require.NoError(t, err)

	_, _, err = svc.AcceptInvitation(ctx, inv.ID, bob)
	require.ErrorIs(t, err, orgs.ErrInvitationEmailMismatch)

	var status orgs.InvitationStatus
	err = pool.QueryRow(ctx, `
		SELECT status FROM org_invitations WHERE id = $1
	`, inv.ID).Scan(&status)
	require.NoError(t, err)
	require.Equal(t, orgs.InvitationPending, status)
}

func TestService_RetentionPurgesOnlySettledInvitations(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := orgs.NewService(pool)

	alice := insertUser(t, pool, "alice@example.com")
	bob := insertUser(t, pool, "bob@example.com")

	org, err := svc.CreateOrganization(ctx, "Org", "", alice)
	require.NoError(t, err)

	settled, err := svc.CreateInvitation(ctx, org.ID, alice, "bob@example.com", orgs.RoleViewer)
	require.NoError(t, err)
	_, err = svc.DeclineInvitation(ctx, settled.ID, bob)
	require.NoError(t, err)

	pending, err := svc.CreateInvitation(ctx, org.ID, alice, "bob@example.com", orgs.RoleViewer)
	require.NoError(t, err)

	// Age both rows past the retention window.
	_, err = pool.Exec(ctx, `
		UPDATE org_invitations SET updated_at = NOW() - INTERVAL '90 days'
	`)
	require.NoError(t, err)

	purged, err := retention.PurgeSettledInvitations(ctx, pool, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	var remaining uuid.UUID
	err = pool.QueryRow(ctx, `SELECT id FROM org_invitations`).Scan(&remaining)
	require.NoError(t, err)
	require.Equal(t, pending.ID, remaining)
}
