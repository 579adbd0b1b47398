package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so the same queries run inside and
// outside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries { return &queries{db: db} }

type principalRow struct {
	ID           string
	PasswordHash string
	Scopes       string
	TOTPSecret   sql.NullString
	CreatedAt    int64
	UpdatedAt    int64
}

type signingKeyRow struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           int64
	RetiredAt           sql.NullInt64
	VerifyUntil         sql.NullInt64
}

const getPrincipal = `
SELECT id, password_hash, scopes, totp_secret, created_at, updated_at
FROM principals
WHERE id = ?`

func (q *queries) getPrincipal(ctx context.Context, id string) (principalRow, error) {
	var r principalRow
	err := q.db.QueryRowContext(ctx, getPrincipal, id).Scan(
		&r.ID, &r.PasswordHash, &r.Scopes, &r.TOTPSecret, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

const createPrincipal = `
INSERT INTO principals (id, password_hash, scopes, totp_secret, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (q *queries) createPrincipal(ctx context.Context, r principalRow) error {
	_, err := q.db.ExecContext(ctx, createPrincipal,
		r.ID, r.PasswordHash, r.Scopes, r.TOTPSecret, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

const updatePrincipalPasswordHash = `
UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?`

func (q *queries) updatePrincipalPasswordHash(ctx context.Context, id, hash string, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePrincipalPasswordHash, hash, at.UnixMilli(), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updatePrincipalTOTPSecret = `
UPDATE principals SET totp_secret = ?, updated_at = ? WHERE id = ?`

func (q *queries) updatePrincipalTOTPSecret(ctx context.Context, id string, secret sql.NullString, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePrincipalTOTPSecret, secret, at.UnixMilli(), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countPrincipals = `SELECT COUNT(*) FROM principals`

func (q *queries) countPrincipals(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countPrincipals).Scan(&n)
	return n, err
}

const createSigningKey = `
INSERT INTO signing_keys (id, kid, algorithm, private_key_encrypted, created_at, retired_at, verify_until)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *queries) createSigningKey(ctx context.Context, r signingKeyRow) error {
	_, err := q.db.ExecContext(ctx, createSigningKey,
		r.ID, r.Kid, r.Algorithm, r.PrivateKeyEncrypted, r.CreatedAt, r.RetiredAt, r.VerifyUntil,
	)
	return err
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, verify_until`

const getSigningKeyByKid = `SELECT ` + signingKeyColumns + ` FROM signing_keys WHERE kid = ?`

func (q *queries) getSigningKeyByKid(ctx context.Context, kid string) (signingKeyRow, error) {
	var r signingKeyRow
	err := q.db.QueryRowContext(ctx, getSigningKeyByKid, kid).Scan(
		&r.ID, &r.Kid, &r.Algorithm, &r.PrivateKeyEncrypted, &r.CreatedAt, &r.RetiredAt, &r.VerifyUntil,
	)
	return r, err
}

const listSigningKeys = `SELECT ` + signingKeyColumns + ` FROM signing_keys ORDER BY created_at DESC, id DESC`

func (q *queries) listSigningKeys(ctx context.Context) ([]signingKeyRow, error) {
	rows, err := q.db.QueryContext(ctx, listSigningKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signingKeyRow
	for rows.Next() {
		var r signingKeyRow
		if err := rows.Scan(
			&r.ID, &r.Kid, &r.Algorithm, &r.PrivateKeyEncrypted, &r.CreatedAt, &r.RetiredAt, &r.VerifyUntil,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const retireSigningKey = `
UPDATE signing_keys SET retired_at = ?, verify_until = ?
WHERE kid = ? AND retired_at IS NULL`

func (q *queries) retireSigningKey(ctx context.Context, kid string, retiredAt, verifyUntil time.Time) error {
	_, err := q.db.ExecContext(ctx, retireSigningKey, retiredAt.UnixMilli(), verifyUntil.UnixMilli(), kid)
	return err
}

const deleteExpiredSigningKeys = `
DELETE FROM signing_keys WHERE verify_until IS NOT NULL AND verify_until <= ?`

func (q *queries) deleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSigningKeys, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
