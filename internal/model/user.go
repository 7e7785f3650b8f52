package model

import "time"

// Identity represents a row of the `users` table.  The auth core only ever
// writes PasswordHash and RefreshTokenHash; every other column belongs to the
// profile side of the application.
//
// Fields:
//
//	ID               – opaque identifier (uuid string).
//	Username         – unique, trimmed and lower-cased.
//	Email            – unique, trimmed and lower-cased.
//	FullName         – display name.
//	Avatar           – avatar URL (may be empty).
//	CoverImage       – cover image URL (may be empty).
//	PasswordHash     – bcrypt hash.
//	RefreshTokenHash – SHA-256 digest of the live refresh token, nil when logged out.
//	CreatedAt        – timestamp of creation.
//	UpdatedAt        – timestamp of last update.
type Identity struct {
	ID               string
	Username         string
	Email            string
	FullName         string
	Avatar           string
	CoverImage       string
	PasswordHash     string
	RefreshTokenHash *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IdentityView is an Identity with the secret fields removed.  It is the only
// shape handed to callers.
type IdentityView struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Avatar     string    `json:"avatar,omitempty"`
	CoverImage string    `json:"coverImage,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// View strips the password hash and refresh token.
func (u Identity) View() IdentityView {
	return IdentityView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FullName:   u.FullName,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// Claims returns the snapshot embedded in access tokens.  Later profile edits
// do not reach tokens already issued.
func (u Identity) Claims() Claims {
	return Claims{UserID: u.ID, Email: u.Email, Username: u.Username, FullName: u.FullName}
}

// Claims is the identity snapshot carried inside a token.
type Claims struct {
	UserID   string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
