package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/iliyamo/user-auth-service/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

const userColumns = "id,username,email,full_name,avatar,cover_image,password_hash,refresh_token_hash,created_at,updated_at"

// UserRepo reads and writes the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u, assigning its id and timestamps.  Callers hash the
// password beforehand.
func (r *UserRepo) Create(ctx context.Context, u *model.Identity) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)",
		u.ID, u.Username, u.Email, u.FullName, nullString(u.Avatar), nullString(u.CoverImage), u.PasswordHash, now, now)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrConflict
		}
		return err
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// GetByID fetches an identity by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.Identity, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByUsernameOrEmail fetches the identity whose username or email equals
// identifier.  identifier is expected to be normalized already.
func (r *UserRepo) GetByUsernameOrEmail(ctx context.Context, identifier string) (model.Identity, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? OR email=? LIMIT 1", identifier, identifier))
}

// ExistsByUsernameOrEmail reports whether either value is taken.
func (r *UserRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM users WHERE username=? OR email=?", username, email).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdatePasswordHash replaces the stored bcrypt hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=? WHERE id=?", hash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) scanOne(row *sql.Row) (model.Identity, error) {
	var (
		u                   model.Identity
		avatar, cover, hash sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &avatar, &cover,
		&u.PasswordHash, &hash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, err
	}
	u.Avatar, u.CoverImage = avatar.String, cover.String
	if hash.Valid {
		u.RefreshTokenHash = &hash.String
	}
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
