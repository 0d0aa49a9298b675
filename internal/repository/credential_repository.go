package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/authguard-api/internal/models"
)

const credentialColumns = `id, email, COALESCE(username, '') AS username, password_hash, status, role, COALESCE(permissions, '{}') AS permissions`

type credentialRow struct {
	models.Credential
	Permissions pq.StringArray `db:"permissions"`
}

func (r credentialRow) toModel() *models.Credential {
	cred := r.Credential
	cred.Permissions = []string(r.Permissions)
	return &cred
}

// CredentialRepository reads the users table for authentication.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new instance of CredentialRepository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByIdentifierWithSecret resolves an email or username, case-insensitively.
func (r *CredentialRepository) FindByIdentifierWithSecret(ctx context.Context, identifier string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE LOWER(email) = $1 OR LOWER(username) = $1 LIMIT 1`
	var row credentialRow
	if err := r.db.GetContext(ctx, &row, query, strings.ToLower(strings.TrimSpace(identifier))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find credential by identifier: %w", err)
	}
	return row.toModel(), nil
}

// FindByID returns the credential for a user id.
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var row credentialRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	return row.toModel(), nil
}

// UpdateSecret replaces the stored password hash.
func (r *CredentialRepository) UpdateSecret(ctx context.Context, id, secretHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, secretHash, updatedAt)
	if err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return requireAffected(res)
}

// UpdateRole changes the role of a user.
func (r *CredentialRepository) UpdateRole(ctx context.Context, id string, role models.UserRole, updatedAt time.Time) error {
	const query = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, string(role), updatedAt)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
