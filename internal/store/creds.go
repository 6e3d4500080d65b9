// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tgfeed/tgfeed/internal/models"
)

// AddCredential inserts an API credential. When primary is set, any other
// primary flag is cleared in the same transaction so exactly one remains.
func (s *Store) AddCredential(ctx context.Context, c *models.Credential) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if c.Primary {
			if _, err := tx.ExecContext(ctx, `UPDATE tg_creds SET "primary" = 0 WHERE "primary" = 1`); err != nil {
				return fmt.Errorf("failed to clear primary flag: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tg_creds (api_id, api_hash, phone_number, "primary") VALUES (?, ?, ?, ?)`,
			c.APIID, c.APIHash, c.Phone, boolInt(c.Primary))
		if err != nil {
			return fmt.Errorf("failed to insert credential: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// SetPrimaryCredential makes the given credential the sole primary.
func (s *Store) SetPrimaryCredential(ctx context.Context, credID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE tg_creds SET "primary" = 0 WHERE "primary" = 1`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE tg_creds SET "primary" = 1 WHERE id = ?`, credID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteCredential removes a credential row. Session material held outside
// the database is the caller's problem.
func (s *Store) DeleteCredential(ctx context.Context, credID int64) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM tg_creds WHERE id = ?", credID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AllCredentials returns every credential, primary first.
func (s *Store) AllCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, api_id, api_hash, phone_number, "primary" FROM tg_creds ORDER BY "primary" DESC, id`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// PrimaryCredential returns the credential marked primary, or ErrNotFound.
func (s *Store) PrimaryCredential(ctx context.Context) (*models.Credential, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, api_id, api_hash, phone_number, "primary" FROM tg_creds WHERE "primary" = 1`)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CredentialByID returns one credential or ErrNotFound.
func (s *Store) CredentialByID(ctx context.Context, credID int64) (*models.Credential, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, api_id, api_hash, phone_number, "primary" FROM tg_creds WHERE id = ?`, credID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanCredential(sc interface{ Scan(...any) error }) (*models.Credential, error) {
	var c models.Credential
	var primary int
	if err := sc.Scan(&c.ID, &c.APIID, &c.APIHash, &c.Phone, &primary); err != nil {
		return nil, err
	}
	c.Primary = primary != 0
	return &c, nil
}
