package pgstore

import (
	"context"
	"database/sql"
	"errors"

	goVerify "github.com/MrEthical07/goVerify"
)

// PhoneStore implements goVerify.PhoneStore. Each user has at most one row.
type PhoneStore struct {
	db *sql.DB
}

var _ goVerify.PhoneStore = (*PhoneStore)(nil)

func NewPhoneStore(db *sql.DB) *PhoneStore {
	return &PhoneStore{db: db}
}

const phoneColumns = `user_id, number_encrypted, number_index, code_id, created_at, updated_at`

func scanPhone(row rowScanner) (*goVerify.Phone, error) {
	var (
		p      goVerify.Phone
		codeID sql.NullString
	)
	if err := row.Scan(&p.UserID, &p.Number.Ciphertext, &p.Number.Index, &codeID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CodeID = codeID.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *PhoneStore) FindByUser(ctx context.Context, userID string) (*goVerify.Phone, error) {
	phone, err := scanPhone(s.db.QueryRowContext(ctx, `SELECT `+phoneColumns+` FROM phones WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return phone, nil
}

func (s *PhoneStore) FindByNumberIndex(ctx context.Context, index string) ([]goVerify.Phone, error) {
	if index == "" {
		return nil, nil
	}
	return phonesByIndex(ctx, s.db, index, "")
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const phonesByIndexQuery = `SELECT ` + phoneColumns + ` FROM phones WHERE number_index = $1 ORDER BY created_at`

// phonesByIndex lists the phones on index, leaving out exclude's row.
func phonesByIndex(ctx context.Context, q queryer, index, exclude string) ([]goVerify.Phone, error) {
	rows, err := q.QueryContext(ctx, phonesByIndexQuery, index)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []goVerify.Phone
	for rows.Next() {
		phone, err := scanPhone(rows)
		if err != nil {
			return nil, classify(err)
		}
		if phone.UserID == exclude {
			continue
		}
		out = append(out, *phone)
	}
	return out, classify(rows.Err())
}

const upsertPhoneQuery = `INSERT INTO phones (` + phoneColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id) DO UPDATE SET
		number_encrypted = EXCLUDED.number_encrypted,
		number_index = EXCLUDED.number_index,
		code_id = EXCLUDED.code_id,
		updated_at = EXCLUDED.updated_at`

func (s *PhoneStore) Save(ctx context.Context, phone *goVerify.Phone) error {
	if phone == nil || phone.UserID == "" {
		return errors.New("phone user id required")
	}
	_, err := s.db.ExecContext(ctx, upsertPhoneQuery, phoneArgs(phone)...)
	return classify(err)
}

// Claim holds pg_advisory_xact_lock on the number index while check looks
// at the other rows and the upsert runs, so claims on one number queue up.
func (s *PhoneStore) Claim(ctx context.Context, phone *goVerify.Phone, check func([]goVerify.Phone) error) error {
	if phone == nil || phone.UserID == "" {
		return errors.New("phone user id required")
	}
	if check == nil || phone.Number.Index == "" {
		return s.Save(ctx, phone)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "phone|"+phone.Number.Index); err != nil {
		return classify(err)
	}
	others, err := phonesByIndex(ctx, tx, phone.Number.Index, phone.UserID)
	if err != nil {
		return err
	}
	if err := check(others); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertPhoneQuery, phoneArgs(phone)...); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func phoneArgs(phone *goVerify.Phone) []any {
	var codeID any
	if phone.CodeID != "" {
		codeID = phone.CodeID
	}
	return []any{
		phone.UserID, phone.Number.Ciphertext, phone.Number.Index, codeID,
		phone.CreatedAt.UTC(), phone.UpdatedAt.UTC(),
	}
}
