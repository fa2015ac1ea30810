package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Well-known identities.
const (
	SystemUserID = "system"
	SupportBotID = "mavis_support_bot_official"
)

type User struct {
	ID                   string     `json:"id"`
	Username             string     `json:"username"`
	DisplayName          string     `json:"display_name"`
	Email                string     `json:"email"`
	Bio                  string     `json:"bio"`
	AvatarColor          string     `json:"avatar_color,omitempty"`
	AvatarURL            *string    `json:"avatar_url,omitempty"`
	IsOnline             bool       `json:"is_online"`
	LastSeen             *time.Time `json:"last_seen,omitempty"`
	IsAdmin              bool       `json:"is_admin"`
	IsBot                bool       `json:"is_bot"`
	IsBanned             bool       `json:"is_banned"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Credential is the login half of an identity. It is stored apart from the
// profile and the two may diverge.
type Credential struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Presence is the online state tracked for a user id.
type Presence struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// CleanUsername strips surrounding whitespace and a leading @.
func CleanUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

// UsernameKey is the case-folded form usernames are stored and matched by.
func UsernameKey(s string) string {
	return cases.Fold().String(CleanUsername(s))
}

// EmailKey normalizes an email for lookups.
func EmailKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ApplyPresence copies presence state onto the user record.
func (u *User) ApplyPresence(p *Presence) {
	if p == nil {
		return
	}
	u.IsOnline = p.IsOnline
	u.LastSeen = p.LastSeen
}
