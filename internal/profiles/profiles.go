package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrProfileNotFound is returned when no profile exists for the user
var ErrProfileNotFound = errors.New("profile not found")

// Profile is per-user display data, separate from the auth identity.
type Profile struct {
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Service manages user profiles
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// OnPrincipalCreated creates the profile row for a newly registered user.
// Called explicitly by the signup handler rather than by a database trigger,
// so the side effect is visible and testable in application code.
func (s *Service) OnPrincipalCreated(ctx context.Context, userID uuid.UUID, email string) error {
	displayName := email
	if at := strings.Index(email, "@"); at > 0 {
		displayName = email[:at]
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, displayName)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	log.Debug().Str("user_id", userID.String()).Msg("Profile created")
	return nil
}

// GetByUserID retrieves a user's profile
func (s *Service) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, display_name, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.DisplayName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
