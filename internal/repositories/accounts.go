package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/humanreel/backend/internal/db"
	"github.com/humanreel/backend/internal/models"
)

const accountColumns = `id, credential_id, display_name, is_verified, is_moderator, avatar,
        last_display_name_change, COALESCE(moderator_password_hash, ''), created_at`

// PostgresAccountRepository provides PostgreSQL-backed persistence for accounts.
type PostgresAccountRepository struct {
	pool db.Pool
}

// NewPostgresAccountRepository constructs an account repository backed by PostgreSQL.
func NewPostgresAccountRepository(pool db.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// Create persists a new account. A duplicate credential or display name yields ErrConflict.
func (r *PostgresAccountRepository) Create(ctx context.Context, account models.Account) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO accounts (id, credential_id, display_name, is_verified, is_moderator, avatar, last_display_name_change, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, account.ID, account.CredentialID, account.DisplayName, account.IsVerified, account.IsModerator,
		account.Avatar, account.LastDisplayNameChange, account.CreatedAt)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// FindByID fetches an account by its identifier.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (models.Account, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByCredential fetches the account bound to a verification credential.
func (r *PostgresAccountRepository) FindByCredential(ctx context.Context, credentialID string) (models.Account, error) {
	return r.findOne(ctx, "credential_id = $1", credentialID)
}

// FindByDisplayName fetches an account by display name, ignoring case.
func (r *PostgresAccountRepository) FindByDisplayName(ctx context.Context, name string) (models.Account, error) {
	return r.findOne(ctx, "lower(display_name) = lower($1)", name)
}

func (r *PostgresAccountRepository) findOne(ctx context.Context, where string, arg any) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)

	var account models.Account
	if err := row.Scan(&account.ID, &account.CredentialID, &account.DisplayName, &account.IsVerified,
		&account.IsModerator, &account.Avatar, &account.LastDisplayNameChange, &account.ModeratorPassword,
		&account.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("select account: %w", err)
	}

	return account, nil
}

// MarkVerified turns the verification flag on.
func (r *PostgresAccountRepository) MarkVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "mark account verified", `UPDATE accounts SET is_verified = true WHERE id = $1`, id)
}

// Rename changes the display name only when the last change happened at or
// before notChangedSince. A cooldown that has not elapsed yields ErrStaleState.
func (r *PostgresAccountRepository) Rename(ctx context.Context, id, name string, changedAt, notChangedSince time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE accounts
        SET display_name = $2, last_display_name_change = $3
        WHERE id = $1
          AND (last_display_name_change IS NULL OR last_display_name_change <= $4)
    `, id, name, changedAt, notChangedSince)
	if err != nil {
		if mapped := mapWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("rename account: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}

	return nil
}

// SetModerator grants or revokes the moderator flag.
func (r *PostgresAccountRepository) SetModerator(ctx context.Context, id string, moderator bool) error {
	return r.exec(ctx, "set moderator flag", `UPDATE accounts SET is_moderator = $2 WHERE id = $1`, id, moderator)
}

// SetModeratorPassword stores an already hashed moderator password.
func (r *PostgresAccountRepository) SetModeratorPassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, "set moderator password", `UPDATE accounts SET moderator_password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *PostgresAccountRepository) exec(ctx context.Context, op, query string, args ...any) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
