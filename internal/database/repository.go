package database

import (
	"context"
	"errors"
	"time"

	"tickpulse/internal/model"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("database: user not found")

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	FindUserByID(ctx context.Context, id int64) (model.User, error)
	FindUserByEmail(ctx context.Context, email string) (model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
	UpdateBalances(ctx context.Context, userID int64, balances []model.AccountBalance, at time.Time) error
}
