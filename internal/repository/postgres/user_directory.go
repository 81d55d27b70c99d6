package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

var _ port.UserDirectory = (*UserDirectory)(nil)

// UserDirectory reads profiles and records session references in PostgreSQL.
type UserDirectory struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserDirectory constructs a directory backed by any executor that satisfies pgExecutor.
func NewUserDirectory(exec pgExecutor) *UserDirectory {
	return &UserDirectory{exec: exec, builder: newBuilder()}
}

// WithTx returns a directory operating within the supplied transaction.
func (d *UserDirectory) WithTx(tx pgx.Tx) *UserDirectory {
	if tx == nil {
		return d
	}
	return &UserDirectory{exec: tx, builder: d.builder}
}

// GetProfile loads the user row and its role names.
func (d *UserDirectory) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	stmt, args, err := d.builder.
		Select("id", "username", "display_name", "mfa_enabled", "is_active").
		From("users").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile sql: %w", err)
	}

	var (
		profile     domain.UserProfile
		displayName sql.NullString
		active      bool
	)
	if err := d.exec.QueryRow(ctx, stmt, args...).Scan(
		&profile.ID,
		&profile.Username,
		&displayName,
		&profile.MFAEnabled,
		&active,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if displayName.Valid {
		profile.DisplayName = displayName.String
	}
	profile.Disabled = !active

	roles, err := d.roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile.Roles = roles

	return &profile, nil
}

func (d *UserDirectory) roles(ctx context.Context, userID string) ([]string, error) {
	stmt, args, err := d.builder.
		Select("r.name").
		From("user_roles ur").
		Join("roles r ON r.id = ur.role_id").
		Where(squirrel.Eq{"ur.user_id": userID}).
		OrderBy("r.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select roles sql: %w", err)
	}

	rows, err := d.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// SetMFAEnabled flips the profile flag.
func (d *UserDirectory) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	stmt, args, err := d.builder.
		Update("users").
		Set("mfa_enabled", enabled).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update mfa sql: %w", err)
	}

	tag, err := d.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update mfa flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordSession stores a reference to an issued session and bumps last_login.
func (d *UserDirectory) RecordSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	insert, args, err := d.builder.
		Insert("user_sessions").
		Columns("session_id", "user_id", "created_at").
		Values(sessionID, userID, at.UTC()).
		Suffix("ON CONFLICT (session_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session ref sql: %w", err)
	}
	if _, err := d.exec.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert session ref: %w", err)
	}

	update, args, err := d.builder.
		Update("users").
		Set("last_login", at.UTC()).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last login sql: %w", err)
	}
	if _, err := d.exec.Exec(ctx, update, args...); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
