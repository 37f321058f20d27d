// Package session resolves who the console is acting for. The identity is
// resolved once at session start and handed explicitly to every component
// that has to tell "self" from "other".
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/driver-console-sync/internal/models"
)

const DefaultRole = "driver"

var ErrNoIdentity = errors.New("session: no user identity")

type Identity struct {
	UserID models.ID
	Name   string
	Role   string
	Token  string
}

// Profile is a prefetched user profile, used when no token carries the id.
type Profile struct {
	ID   models.ID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

// IsSelf reports whether a sender identity from a payload is the viewer.
func (i Identity) IsSelf(sender models.ID) bool {
	return models.SameID(i.UserID, sender)
}

// FromToken extracts the identity from an access token. The console holds no
// signing secret, so the claims are read without verification; the backend
// verifies the token on every call.
func FromToken(raw string) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Identity{}, ErrNoIdentity
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("session: parse token: %w", err)
	}
	id := claimID(claims, "sub", "id", "userId", "user_id")
	if id.Empty() {
		return Identity{}, ErrNoIdentity
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = DefaultRole
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: id, Name: name, Role: role, Token: raw}, nil
}

// Resolve prefers the token and falls back to the profile.
func Resolve(token string, profile *Profile) (Identity, error) {
	if ident, err := FromToken(token); err == nil {
		if ident.Name == "" && profile != nil {
			ident.Name = profile.Name
		}
		return ident, nil
	}
	if profile == nil || profile.ID.Empty() {
		return Identity{}, ErrNoIdentity
	}
	role := profile.Role
	if role == "" {
		role = DefaultRole
	}
	return Identity{UserID: profile.ID, Name: profile.Name, Role: role, Token: strings.TrimSpace(token)}, nil
}

func claimID(claims jwt.MapClaims, keys ...string) models.ID {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return models.ID(s)
			}
		case float64:
			return models.ID(strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return ""
}
