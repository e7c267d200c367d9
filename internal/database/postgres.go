package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tickpulse/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id                  BIGSERIAL PRIMARY KEY,
	uid                 TEXT NOT NULL UNIQUE,
	email               TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	loginid             TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'active',
	approved            BOOLEAN NOT NULL DEFAULT FALSE,
	deriv_loginid       TEXT NOT NULL DEFAULT '',
	deriv_linked_at     TIMESTAMPTZ,
	deriv_currency      TEXT NOT NULL DEFAULT '',
	deriv_token         TEXT NOT NULL DEFAULT '',
	balance_total       INTEGER NOT NULL DEFAULT 0,
	balance_real        INTEGER NOT NULL DEFAULT 0,
	balance_demo        INTEGER NOT NULL DEFAULT 0,
	last_balance_update TIMESTAMPTZ,
	last_login          TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS users_email_idx ON users (email);

CREATE TABLE IF NOT EXISTS user_tokens (
	user_id  BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	account  TEXT NOT NULL,
	token    TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, account)
);

CREATE TABLE IF NOT EXISTS account_balances (
	user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	loginid    TEXT NOT NULL,
	currency   TEXT NOT NULL DEFAULT '',
	balance    DOUBLE PRECISION NOT NULL DEFAULT 0,
	type       TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	is_demo    BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, loginid)
);`

const userColumns = `id, uid, email, name, loginid, status, approved,
	deriv_loginid, deriv_linked_at, deriv_currency, deriv_token,
	balance_total, balance_real, balance_demo, last_balance_update, last_login, created_at`

// PostgresRepository stores users in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository opens a pool for dsn and checks connectivity.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, schemaSQL)
	return err
}

// FindUserByID loads a user with tokens and balances.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id int64) (model.User, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.loadUser(ctx, row)
}

// FindUserByEmail loads the oldest user registered with email.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY id LIMIT 1`, email)
	return r.loadUser(ctx, row)
}

// SaveUser inserts a new user (ID == 0) or updates an existing one, and
// replaces its token list. ID and CreatedAt are set on insert.
func (r *PostgresRepository) SaveUser(ctx context.Context, user *model.User) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	linkedAt := nullTime(user.Deriv.LinkedAt)
	if user.ID == 0 {
		status := user.Status
		if status == "" {
			status = "active"
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO users (uid, email, name, loginid, status, approved,
				deriv_loginid, deriv_linked_at, deriv_currency, deriv_token, last_login)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at`,
			user.UID, user.Email, user.Name, user.LoginID, status, user.Approved,
			user.Deriv.LoginID, linkedAt, user.Deriv.Currency, user.Deriv.Token, user.LastLogin,
		).Scan(&user.ID, &user.CreatedAt)
		if err != nil {
			return fmt.Errorf("database: insert user: %w", err)
		}
		user.Status = status
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET email = $2, name = $3, loginid = $4, status = $5, approved = $6,
				deriv_loginid = $7, deriv_linked_at = $8, deriv_currency = $9, deriv_token = $10,
				last_login = $11
			WHERE id = $1`,
			user.ID, user.Email, user.Name, user.LoginID, user.Status, user.Approved,
			user.Deriv.LoginID, linkedAt, user.Deriv.Currency, user.Deriv.Token, user.LastLogin,
		)
		if err != nil {
			return fmt.Errorf("database: update user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("database: clear tokens: %w", err)
	}
	if len(user.Tokens) > 0 {
		batch := &pgx.Batch{}
		for _, t := range user.Tokens {
			batch.Queue(`INSERT INTO user_tokens (user_id, account, token, currency) VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, account) DO UPDATE SET token = EXCLUDED.token, currency = EXCLUDED.currency`,
				user.ID, t.Account, t.Token, t.Currency)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("database: save tokens: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateBalances replaces the stored balances of a user and updates its stats.
func (r *PostgresRepository) UpdateBalances(ctx context.Context, userID int64, balances []model.AccountBalance, at time.Time) error {
	_, _, stats := model.SplitBalances(balances)

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE users SET balance_total = $2, balance_real = $3, balance_demo = $4, last_balance_update = $5
		WHERE id = $1`, userID, stats.Total, stats.Real, stats.Demo, at)
	if err != nil {
		return fmt.Errorf("database: update stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM account_balances WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("database: clear balances: %w", err)
	}

	rows := make([][]any, 0, len(balances))
	for _, b := range balances {
		updated := b.UpdatedAt
		if updated.IsZero() {
			updated = at
		}
		rows = append(rows, []any{userID, b.LoginID, b.Currency, b.Balance, b.Type, b.Category, b.IsDemo, updated})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"account_balances"},
		[]string{"user_id", "loginid", "currency", "balance", "type", "category", "is_demo", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("database: copy balances: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) loadUser(ctx context.Context, row pgx.Row) (model.User, error) {
	var u model.User
	var linkedAt *time.Time
	err := row.Scan(
		&u.ID, &u.UID, &u.Email, &u.Name, &u.LoginID, &u.Status, &u.Approved,
		&u.Deriv.LoginID, &linkedAt, &u.Deriv.Currency, &u.Deriv.Token,
		&u.BalanceStats.Total, &u.BalanceStats.Real, &u.BalanceStats.Demo,
		&u.LastBalanceUpdate, &u.LastLogin, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if linkedAt != nil {
		u.Deriv.LinkedAt = *linkedAt
	}

	tokenRows, err := r.Pool.Query(ctx,
		`SELECT token, account, currency FROM user_tokens WHERE user_id = $1 ORDER BY account`, u.ID)
	if err != nil {
		return model.User{}, err
	}
	u.Tokens, err = pgx.CollectRows(tokenRows, func(row pgx.CollectableRow) (model.Token, error) {
		var t model.Token
		err := row.Scan(&t.Token, &t.Account, &t.Currency)
		return t, err
	})
	if err != nil {
		return model.User{}, err
	}

	balanceRows, err := r.Pool.Query(ctx, `
		SELECT loginid, currency, balance, type, category, is_demo, updated_at
		FROM account_balances WHERE user_id = $1 ORDER BY loginid`, u.ID)
	if err != nil {
		return model.User{}, err
	}
	all, err := pgx.CollectRows(balanceRows, func(row pgx.CollectableRow) (model.AccountBalance, error) {
		var b model.AccountBalance
		err := row.Scan(&b.LoginID, &b.Currency, &b.Balance, &b.Type, &b.Category, &b.IsDemo, &b.UpdatedAt)
		return b, err
	})
	if err != nil {
		return model.User{}, err
	}
	u.AllAccountBalances = all
	u.RealAccountBalances, u.DemoAccountBalances, _ = model.SplitBalances(all)

	return u, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
