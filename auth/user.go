// Package auth registers card holders and issues session tokens for them.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUserExists   = errors.New("auth: user already exists")
	ErrUserNotFound = errors.New("auth: user not found")
)

// User is a registered card holder. PINHash never leaves the server.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CardLast4 string    `json:"cardLast4"`
	PINHash   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserStore persists users. Create returns ErrUserExists for a taken phone
// number; the lookups return ErrUserNotFound.
type UserStore interface {
	Create(ctx context.Context, u User) error
	ByPhone(ctx context.Context, phone string) (User, error)
	ByID(ctx context.Context, id string) (User, error)
}

type registerRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	PIN       string `json:"pin"`
	CardLast4 string `json:"cardLast4"`
}

func (r *registerRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.TrimSpace(r.Email)
	r.CardLast4 = strings.TrimSpace(r.CardLast4)
}

// validate returns the first problem as a message fit for the client.
func (r registerRequest) validate() string {
	switch {
	case r.Name == "":
		return "enter full name"
	case !digits(r.Phone, 10):
		return "enter a valid 10-digit mobile number"
	case !strings.Contains(r.Email, "@") || !strings.Contains(r.Email, "."):
		return "enter a valid email"
	case !digits(r.PIN, 6):
		return "pin must be 6 digits"
	case !digits(r.CardLast4, 4):
		return "enter the last 4 digits of the card"
	}
	return ""
}

type loginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
