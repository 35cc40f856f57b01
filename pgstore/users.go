package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

// UserStore reads accounts for the engine and the event consumer.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ goVerify.UserProvider = (*UserStore)(nil)

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

const userColumns = `uid, email, password_digest, state, role, level, language, otp, created_at, updated_at`

func scanUser(row rowScanner) (goVerify.UserRecord, error) {
	var (
		u     goVerify.UserRecord
		state string
	)
	err := row.Scan(&u.UID, &u.Email, &u.PasswordHash, &state, &u.Role, &u.Level, &u.Language, &u.OTPEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return goVerify.UserRecord{}, err
	}
	u.State = goVerify.UserState(state)
	return u, nil
}

func (s *UserStore) lookup(ctx context.Context, query string, arg any) (goVerify.UserRecord, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return goVerify.UserRecord{}, goVerify.ErrUserNotFound
	}
	if err != nil {
		return goVerify.UserRecord{}, classify(err)
	}
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (goVerify.UserRecord, error) {
	return s.lookup(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

func (s *UserStore) GetUserByUID(ctx context.Context, uid string) (goVerify.UserRecord, error) {
	return s.lookup(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
}

func (s *UserStore) MarkPhoneVerified(ctx context.Context, uid string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET phone_verified_at = $2, updated_at = $2 WHERE uid = $1`, uid, now)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return goVerify.ErrUserNotFound
	}
	return nil
}

// Ping reports database reachability for health checks.
func (s *UserStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}
