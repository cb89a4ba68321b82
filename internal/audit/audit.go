package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventUserSignup         = "user.signup"
	EventLoginFailed        = "auth.login_failed"
	EventOrgCreated         = "org.created"
	EventInvitationCreated  = "org.invitation_created"
	EventInvitationAccepted = "org.invitation_accepted"
	EventInvitationDeclined = "org.invitation_declined"
	EventMemberRoleUpdated  = "org.member_role_updated"
	EventMemberRemoved      = "org.member_removed"
	EventProjectCreated     = "project.created"
	EventInvitationsPurged  = "org.invitations_purged"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	OrgID       uuid.NullUUID          `db:"org_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_events (org_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4)
	`

	orgID := toNullUUID(params.OrgID)
	actorUserID := toNullUUID(params.ActorUserID)

	_, err := w.pool.Exec(ctx, query, orgID, actorUserID, params.Action, metaJSON)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit event")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) error {
	return w.Log(ctx, LogParams{
		ActorUserID: &userID,
		Action:      EventUserSignup,
		Meta: map[string]interface{}{
			"email": email,
		},
	})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) error {
	return w.Log(ctx, LogParams{
		Action: EventLoginFailed,
		Meta: map[string]interface{}{
			"email": email,
			"ip":    ip,
		},
	})
}

func (w *Writer) LogOrgCreated(ctx context.Context, orgID, userID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogInvitationCreated(ctx context.Context, orgID, actorUserID, invitationID uuid.UUID, email, role string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationCreated,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"email":         email,
			"role":          role,
		},
	})
}

func (w *Writer) LogInvitationAccepted(ctx context.Context, orgID, actorUserID, invitationID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationAccepted,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"role":          role,
		},
	})
}

func (w *Writer) LogInvitationDeclined(ctx context.Context, orgID, actorUserID, invitationID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationDeclined,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
		},
	})
}

func (w *Writer) LogMemberRoleUpdated(ctx context.Context, orgID, actorUserID, membershipID uuid.UUID, previousRole, newRole string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventMemberRoleUpdated,
		Meta: map[string]interface{}{
			"membership_id": membershipID.String(),
			"previous_role": previousRole,
			"new_role":      newRole,
		},
	})
}

func (w *Writer) LogMemberRemoved(ctx context.Context, orgID, actorUserID, membershipID uuid.UUID, removedRole string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventMemberRemoved,
		Meta: map[string]interface{}{
			"membership_id": membershipID.String(),
			"role":          removedRole,
		},
	})
}

func (w *Writer) LogInvitationsPurged(ctx context.Context, deleted int64, retentionDays int) error {
	return w.Log(ctx, LogParams{
		Action: EventInvitationsPurged,
		Meta: map[string]interface{}{
			"deleted":        deleted,
			"retention_days": retentionDays,
		},
	})
}

func (w *Writer) LogProjectCreated(ctx context.Context, orgID, projectID, userID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventProjectCreated,
		Meta: map[string]interface{}{
			"project_id": projectID.String(),
			"name":       name,
		},
	})
}
