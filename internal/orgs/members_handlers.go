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

type MemberRoleUpdateRequest struct {
	Role Role `json:"role"`
}

// HandleUpdateMemberRole handles PUT /api/v1/orgs/{org_id}/members/{membership_id}
func HandleUpdateMemberRole(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		membershipID, err := uuid.Parse(chi.URLParam(r, "membership_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid membership ID")
			return
		}

		var req MemberRoleUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if !req.Role.IsValid() {
			apperrors.WriteBadRequest(w, r, "Invalid role")
			return
		}

		service := NewService(pool)
		prevRole, err := service.UpdateMemberRole(ctx, orgID, membershipID, actorUserID, req.Role)
		if err != nil {
			if errors.Is(err, ErrNotMember) || errors.Is(err, ErrInsufficientRole) {
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
				return
			}
			if errors.Is(err, ErrMembershipNotFound) {
				apperrors.WriteNotFound(w, r, "Member not found")
				return
			}
			if errors.Is(err, ErrLastAdmin) {
				apperrors.WriteLastAdmin(w, r, "Cannot demote the last admin")
				return
			}
			if errors.Is(err, ErrInvalidRole) {
				apperrors.WriteBadRequest(w, r, "Invalid role")
				return
			}

			log.Error().Err(err).Msg("Failed to update member role")
			apperrors.WriteInternalError(w, r, "Failed to update member role")
			return
		}

		if err := auditor.LogMemberRoleUpdated(ctx, orgID, actorUserID, membershipID, string(prevRole), string(req.Role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"updated": true,
		})
	}
}

// HandleRemoveMember handles DELETE /api/v1/orgs/{org_id}/members/{membership_id}
func HandleRemoveMember(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorUserID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		membershipID, err := uuid.Parse(chi.URLParam(r, "membership_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid membership ID")
			return
		}

		service := NewService(pool)
		removedRole, err := service.RemoveMember(ctx, orgID, membershipID, actorUserID)
		if err != nil {
			if errors.Is(err, ErrNotMember) || errors.Is(err, ErrInsufficientRole) {
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
				return
			}
			if errors.Is(err, ErrMembershipNotFound) {
				apperrors.WriteNotFound(w, r, "Member not found")
				return
			}
			if errors.Is(err, ErrLastAdmin) {
				apperrors.WriteLastAdmin(w, r, "Cannot remove the last admin")
				return
			}

			log.Error().Err(err).Msg("Failed to remove member")
			apperrors.WriteInternalError(w, r, "Failed to remove member")
			return
		}

		if err := auditor.LogMemberRemoved(ctx, orgID, actorUserID, membershipID, string(removedRole)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"removed": true,
		})
	}
}
