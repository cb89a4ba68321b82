package retention

import (
	"context"
	"fmt"

	"github.com/ebaird/cairn/internal/audit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PurgeSettledInvitations deletes accepted and declined invitations older
// than retentionDays. Pending invitations are never touched. Idempotent -
// safe to run repeatedly.
//
// Returns the number of rows deleted.
func PurgeSettledInvitations(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (int64, error) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM org_invitations
		WHERE status IN ('ACCEPTED', 'DECLINED')
		  AND updated_at < NOW() - INTERVAL '1 day' * $1
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge settled invitations: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RunRetentionJob runs the retention sweep and records the outcome in the
// audit trail.
func RunRetentionJob(ctx context.Context, pool *pgxpool.Pool, retentionDays int) error {
	deleted, err := PurgeSettledInvitations(ctx, pool, retentionDays)
	if err != nil {
		return err
	}

	if deleted > 0 {
		if err := audit.NewWriter(pool).LogInvitationsPurged(ctx, deleted, retentionDays); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}
	}

	log.Info().
		Int64("deleted", deleted).
		Int("retention_days", retentionDays).
		Msg("Invitation retention sweep completed")

	return nil
}
