package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProjectNotFound is returned when a project is not found
var ErrProjectNotFound = errors.New("project not found")

// Service provides project-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new project service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Create inserts a new project under an organization
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, name, description string, createdByUserID uuid.UUID) (*Project, error) {
	var project Project

	err := s.pool.QueryRow(ctx, `
		INSERT INTO projects (org_id, name, description, created_by_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, org_id, name, description, created_by_user_id, created_at, updated_at
	`, orgID, name, description, createdByUserID).Scan(
		&project.ID,
		&project.OrgID,
		&project.Name,
		&project.Description,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return &project, nil
}

// GetByID retrieves a project by ID
func (s *Service) GetByID(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	var project Project

	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, name, description, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(
		&project.ID,
		&project.OrgID,
		&project.Name,
		&project.Description,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// ListByOrg retrieves all projects in an organization
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, name, description, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE org_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var result []Project
	for rows.Next() {
		var project Project
		err := rows.Scan(
			&project.ID,
			&project.OrgID,
			&project.Name,
			&project.Description,
			&project.CreatedByUserID,
			&project.CreatedAt,
			&project.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		result = append(result, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return result, nil
}
