package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FullName         string     `json:"full_name"`
	AvatarURL        *string    `json:"avatar_url"`
	AuthProvider     string     `json:"auth_provider"`
	GoogleID         *string    `json:"-"`
	TotalTimeStudied int64      `json:"total_time_studied"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at"`
}

// UserRecord is one leaderboard participant. IsStudying comes from the
// presence feed, never from the users table.
type UserRecord struct {
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	TotalTimeStudied int64  `json:"total_time_studied"`
	IsStudying       bool   `json:"is_studying"`
}

type RegisterRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}
