package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/user-auth-service/internal/utils"
)

// SessionRepo keeps the live refresh token of each identity in the
// users.refresh_token_hash column.  Only the SHA-256 digest is stored.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Store overwrites the live token, ending any previous session.
func (r *SessionRepo) Store(ctx context.Context, identityID, refreshToken string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=? WHERE id=?",
		utils.HashRefreshRaw(refreshToken), identityID)
	return err
}

// Clear removes the live token.  Clearing an absent session is not an error.
func (r *SessionRepo) Clear(ctx context.Context, identityID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=NULL WHERE id=?", identityID)
	return err
}

// Matches reports whether candidate is the live token.
func (r *SessionRepo) Matches(ctx context.Context, identityID, candidate string) (bool, error) {
	var stored sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT refresh_token_hash FROM users WHERE id=? LIMIT 1", identityID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored.Valid && stored.String == utils.HashRefreshRaw(candidate), nil
}

// Rotate swaps presented for next in a single conditional UPDATE, so of two
// concurrent callers holding the same token only one sees a row change.
func (r *SessionRepo) Rotate(ctx context.Context, identityID, presented, next string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=? WHERE id=? AND refresh_token_hash=?",
		utils.HashRefreshRaw(next), identityID, utils.HashRefreshRaw(presented))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
