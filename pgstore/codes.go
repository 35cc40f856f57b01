package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/google/uuid"
)

const codeColumns = `id, user_id, code_type, category, code, attempt_count, validated_at, expired_at,
	email_encrypted, email_index, phone_number_encrypted, phone_number_index, data,
	created_at, updated_at, version`

// CodeStore implements goVerify.CodeStore.
type CodeStore struct {
	db *sql.DB
}

var _ goVerify.CodeStore = (*CodeStore)(nil)

func NewCodeStore(db *sql.DB) *CodeStore {
	return &CodeStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (*goVerify.Code, error) {
	var (
		c         goVerify.Code
		codeType  string
		category  string
		validated sql.NullTime
		data      []byte
	)
	err := row.Scan(
		&c.ID, &c.UserID, &codeType, &category, &c.Secret, &c.AttemptCount, &validated, &c.ExpiredAt,
		&c.Email.Ciphertext, &c.Email.Index, &c.PhoneNumber.Ciphertext, &c.PhoneNumber.Index, &data,
		&c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		return nil, err
	}
	c.Type = goVerify.CodeType(codeType)
	c.Category = goVerify.Category(category)
	if validated.Valid {
		at := validated.Time.UTC()
		c.ValidatedAt = &at
	}
	if len(data) > 0 {
		c.Data = data
	}
	c.ExpiredAt = c.ExpiredAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

const findPendingQuery = `SELECT ` + codeColumns + ` FROM codes
	WHERE user_id = $1 AND code_type = $2 AND category = $3
	  AND validated_at IS NULL AND expired_at > $4
	ORDER BY created_at DESC LIMIT 1`

func (s *CodeStore) FindPending(ctx context.Context, userID string, codeType goVerify.CodeType, category goVerify.Category, now time.Time) (*goVerify.Code, error) {
	code, err := scanCode(s.db.QueryRowContext(ctx, findPendingQuery, userID, string(codeType), string(category), now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return code, nil
}

const insertCodeQuery = `INSERT INTO codes (` + codeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// CreateOrFetchPending serializes creators of the same triple with
// pg_advisory_xact_lock before looking for a pending row.
func (s *CodeStore) CreateOrFetchPending(
	ctx context.Context,
	userID string,
	codeType goVerify.CodeType,
	category goVerify.Category,
	now time.Time,
	ttl time.Duration,
) (*goVerify.Code, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	lockKey := userID + "|" + string(codeType) + "|" + string(category)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, classify(err)
	}

	existing, err := scanCode(tx.QueryRowContext(ctx, findPendingQuery, userID, string(codeType), string(category), now.UTC()))
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, classify(err)
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, classify(err)
	}

	code := &goVerify.Code{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      codeType,
		Category:  category,
		ExpiredAt: now.Add(ttl).UTC(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
		Version:   1,
	}
	if _, err := tx.ExecContext(ctx, insertCodeQuery, codeArgs(code)...); err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return code, nil
}

func codeArgs(c *goVerify.Code) []any {
	var validated any
	if c.ValidatedAt != nil {
		validated = c.ValidatedAt.UTC()
	}
	var data any
	if len(c.Data) > 0 {
		data = []byte(c.Data)
	}
	return []any{
		c.ID, c.UserID, string(c.Type), string(c.Category), c.Secret, c.AttemptCount, validated, c.ExpiredAt.UTC(),
		c.Email.Ciphertext, c.Email.Index, c.PhoneNumber.Ciphertext, c.PhoneNumber.Index, data,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.Version,
	}
}

const updateCodeQuery = `UPDATE codes SET
	code = $3, attempt_count = $4, validated_at = $5, expired_at = $6,
	email_encrypted = $7, email_index = $8, phone_number_encrypted = $9, phone_number_index = $10,
	data = $11, updated_at = $12, version = version + 1
	WHERE id = $1 AND version = $2`

// Save writes code when the stored version still matches and bumps
// code.Version on success.
func (s *CodeStore) Save(ctx context.Context, code *goVerify.Code) error {
	if code == nil || code.ID == "" {
		return errors.New("code id required")
	}
	var validated any
	if code.ValidatedAt != nil {
		validated = code.ValidatedAt.UTC()
	}
	var data any
	if len(code.Data) > 0 {
		data = []byte(code.Data)
	}

	res, err := s.db.ExecContext(ctx, updateCodeQuery,
		code.ID, code.Version,
		code.Secret, code.AttemptCount, validated, code.ExpiredAt.UTC(),
		code.Email.Ciphertext, code.Email.Index, code.PhoneNumber.Ciphertext, code.PhoneNumber.Index,
		data, code.UpdatedAt.UTC(),
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM codes WHERE id = $1)`, code.ID).Scan(&exists)
		if err != nil {
			return classify(err)
		}
		if !exists {
			return goVerify.ErrCodeNotFound
		}
		return goVerify.ErrCodeConflict
	}
	code.Version++
	return nil
}

func (s *CodeStore) Get(ctx context.Context, id string) (*goVerify.Code, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, goVerify.ErrCodeNotFound
	}
	code, err := scanCode(s.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM codes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goVerify.ErrCodeNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return code, nil
}
