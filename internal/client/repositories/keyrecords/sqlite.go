package keyrecords

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/securechat-dev/securechat/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*KeyRecord, error) {
	rec := &KeyRecord{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT public_key, encrypted_private_key FROM key_records WHERE user_id = ?`,
		userID).Scan(&rec.PublicKey, &rec.EncryptedPrivateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key record[%s]: %w", userID, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, rec *KeyRecord) error {
	// COALESCE keeps an existing encrypted private key when a peer-style
	// record (public key only) is upserted over an own record.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO key_records (user_id, public_key, encrypted_private_key)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			public_key = excluded.public_key,
			encrypted_private_key = COALESCE(excluded.encrypted_private_key, key_records.encrypted_private_key)
	`, rec.UserID, rec.PublicKey, rec.EncryptedPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to save key record[%s]: %w", rec.UserID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM key_records WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete key record[%s]: %w", userID, err)
	}
	return nil
}
