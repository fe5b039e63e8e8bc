package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

// AccountStore is what the login service needs from an account backend.
// Implementations compare names after NormalizeName; case is significant.
type AccountStore interface {
	CheckCredentials(ctx context.Context, name, password string) (bool, error)
	EnsureAccount(ctx context.Context, name, password string) (bool, error)
}

type AccountRow struct {
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// AccountRepo stores accounts in PostgreSQL.
type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Load returns nil, nil when the account does not exist.
func (r *AccountRepo) Load(ctx context.Context, name string) (*AccountRow, error) {
	row := &AccountRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT name, password_hash, created_at, last_login
		 FROM accounts WHERE name = $1`, name,
	).Scan(&row.Name, &row.PasswordHash, &row.CreatedAt, &row.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string) (*AccountRow, error) {
	name = NormalizeName(name)
	hash, err := hashPassword(rawPassword, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	row := &AccountRow{
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (name, password_hash, created_at) VALUES ($1, $2, $3)`,
		row.Name, row.PasswordHash, row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// EnsureAccount creates the account if it is missing. Existing passwords are
// left alone. Reports whether a row was inserted.
func (r *AccountRepo) EnsureAccount(ctx context.Context, name, rawPassword string) (bool, error) {
	name = NormalizeName(name)
	hash, err := hashPassword(rawPassword, bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (name, password_hash) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		name, hash,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CheckCredentials reports whether name exists and rawPassword matches.
func (r *AccountRepo) CheckCredentials(ctx context.Context, name, rawPassword string) (bool, error) {
	name = NormalizeName(name)
	row, err := r.Load(ctx, name)
	if err != nil || row == nil {
		return false, err
	}
	if !ValidatePassword(row.PasswordHash, rawPassword) {
		return false, nil
	}
	if _, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET last_login = NOW() WHERE name = $1`, name,
	); err != nil {
		r.db.log.Warn("update last_login failed", zap.String("account", name), zap.Error(err))
	}
	return true, nil
}

// NormalizeName puts an account name in Unicode NFC so precomposed and
// decomposed spellings of the same name match.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

func ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

func hashPassword(raw string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
