package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Deepa2410-ux/OneCard-SmartAssist/auth"
)

const uniqueViolation = "23505"

// UserRepository implements auth.UserStore on the users table.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("storage: db is required")
	}
	return &UserRepository{db: db}, nil
}

func (r *UserRepository) Create(ctx context.Context, u auth.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, phone, email, card_last4, pin_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Name, u.Phone, u.Email, u.CardLast4, u.PINHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrUserExists
		}
		return fmt.Errorf("storage: insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) ByPhone(ctx context.Context, phone string) (auth.User, error) {
	return r.one(ctx, `SELECT id, name, phone, email, card_last4, pin_hash, created_at FROM users WHERE phone = $1`, phone)
}

func (r *UserRepository) ByID(ctx context.Context, id string) (auth.User, error) {
	return r.one(ctx, `SELECT id, name, phone, email, card_last4, pin_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *UserRepository) one(ctx context.Context, query string, arg any) (auth.User, error) {
	var u auth.User
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.CardLast4, &u.PINHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("storage: select user: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
