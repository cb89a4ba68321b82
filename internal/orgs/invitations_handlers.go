package orgs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ebaird/cairn/internal/apperrors"
	"github.com/ebaird/cairn/internal/audit"
	"github.com/ebaird/cairn/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type InvitationCreateRequest struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type InvitationResponse struct {
	ID     uuid.UUID        `json:"id"`
	OrgID  uuid.UUID        `json:"org_id"`
	Email  string           `json:"email"`
	Role   Role             `json:"role"`
	Status InvitationStatus `json:"status"`
}

// HandleCreateInvitation handles POST /api/v1/orgs/{org_id}/invitations
func HandleCreateInvitation(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		var req InvitationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		inv, err := service.CreateInvitation(ctx, orgID, actorUserID, req.Email, req.Role)
		if err != nil {
			if errors.Is(err, ErrNotMember) || errors.Is(err, ErrInsufficientRole) {
				apperrors.WriteForbidden(w, r, "Only admins can invite members")
				return
			}
			if errors.Is(err, ErrInvalidRole) {
				apperrors.WriteBadRequest(w, r, "Invalid role")
				return
			}
			if errors.Is(err, ErrInvalidEmail) {
				apperrors.WriteBadRequest(w, r, err.Error())
				return
			}

			log.Error().Err(err).Msg("Failed to create invitation")
			apperrors.WriteInternalError(w, r, "Failed to create invitation")
			return
		}

		if err := auditor.LogInvitationCreated(ctx, orgID, actorUserID, inv.ID, inv.Email, string(inv.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invitation": InvitationResponse{
				ID:     inv.ID,
				OrgID:  inv.OrgID,
				Email:  inv.Email,
				Role:   inv.Role,
				Status: inv.Status,
			},
		})
	}
}

// HandleListOrgInvitations handles GET /api/v1/orgs/{org_id}/invitations
func HandleListOrgInvitations(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		invitations, err := service.ListOrgInvitations(ctx, orgID, actorUserID)
		if err != nil {
			if errors.Is(err, ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Organization not found")
				return
			}
			if errors.Is(err, ErrInsufficientRole) {
				apperrors.WriteForbidden(w, r, "Only admins can list invitations")
				return
			}
			log.Error().Err(err).Msg("Failed to list invitations")
			apperrors.WriteInternalError(w, r, "Failed to list invitations")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitations": invitations,
		})
	}
}

// HandleListMyInvitations handles GET /api/v1/invitations
func HandleListMyInvitations(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		invitations, err := service.ListInvitationsForUser(ctx, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list invitations")
			apperrors.WriteInternalError(w, r, "Failed to list invitations")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitations": invitations,
		})
	}
}

// HandleAcceptInvitation handles POST /api/v1/invitations/{invitation_id}/accept
func HandleAcceptInvitation(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invitationID, err := uuid.Parse(chi.URLParam(r, "invitation_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invitation ID")
			return
		}

		service := NewService(pool)
		orgID, role, err := service.AcceptInvitation(ctx, invitationID, userID)
		if err != nil {
			if errors.Is(err, ErrInvitationNotFound) {
				apperrors.WriteNotFound(w, r, "Invitation not found")
				return
			}
			if errors.Is(err, ErrInvitationSettled) {
				apperrors.WriteNotFound(w, r, "Invitation already accepted or declined")
				return
			}
			if errors.Is(err, ErrInvitationEmailMismatch) {
				apperrors.WriteForbidden(w, r, "Invitation is addressed to a different email")
				return
			}
			log.Error().Err(err).Msg("Failed to accept invitation")
			apperrors.WriteInternalError(w, r, "Failed to accept invitation")
			return
		}

		if err := auditor.LogInvitationAccepted(ctx, orgID, userID, invitationID, string(role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"org_id": orgID,
			"role":   role,
		})
	}
}

// HandleDeclineInvitation handles POST /api/v1/invitations/{invitation_id}/decline
func HandleDeclineInvitation(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invitationID, err := uuid.Parse(chi.URLParam(r, "invitation_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid invitation ID")
			return
		}

		service := NewService(pool)
		orgID, err := service.DeclineInvitation(ctx, invitationID, userID)
		if err != nil {
			if errors.Is(err, ErrInvitationNotFound) {
				apperrors.WriteNotFound(w, r, "Invitation not found")
				return
			}
			if errors.Is(err, ErrInvitationSettled) {
				apperrors.WriteNotFound(w, r, "Invitation already accepted or declined")
				return
			}
			if errors.Is(err, ErrInvitationEmailMismatch) {
				apperrors.WriteForbidden(w, r, "Invitation is addressed to a different email")
				return
			}
			log.Error().Err(err).Msg("Failed to decline invitation")
			apperrors.WriteInternalError(w, r, "Failed to decline invitation")
			return
		}

		if err := auditor.LogInvitationDeclined(ctx, orgID, userID, invitationID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"declined": true,
		})
	}
}
