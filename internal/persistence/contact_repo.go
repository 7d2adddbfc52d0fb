package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshbridge/internal/domain"
)

type ContactRepo struct {
	db *sql.DB
}

func NewContactRepo(db *sql.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

func (r *ContactRepo) Upsert(ctx context.Context, c domain.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts(contact_id, prefix, pubkey, name, contact_type, flags, last_advert_at, last_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			prefix = excluded.prefix,
			pubkey = excluded.pubkey,
			name = excluded.name,
			contact_type = excluded.contact_type,
			flags = excluded.flags,
			last_advert_at = excluded.last_advert_at,
			last_modified_at = excluded.last_modified_at
	`, c.ID, c.Prefix[:], c.PublicKey, c.Name, c.Type, c.Flags, int64(c.LastAdvert), int64(c.LastModified))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ReplaceAll swaps the stored directory for a freshly synced contact list in
// one transaction.
func (r *ContactRepo) ReplaceAll(ctx context.Context, contacts []domain.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contact replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	for _, c := range contacts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts(contact_id, prefix, pubkey, name, contact_type, flags, last_advert_at, last_modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.Prefix[:], c.PublicKey, c.Name, c.Type, c.Flags, int64(c.LastAdvert), int64(c.LastModified))
		if err != nil {
			return fmt.Errorf("insert contact %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact replace: %w", err)
	}
	return nil
}

func (r *ContactRepo) ListSortedByLastAdvert(ctx context.Context) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, prefix, pubkey, name, contact_type, flags, last_advert_at, last_modified_at
		FROM contacts
		ORDER BY last_advert_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var (
			c          domain.Contact
			prefix     []byte
			lastAdvert int64
			lastMod    int64
		)
		if err := rows.Scan(&c.ID, &prefix, &c.PublicKey, &c.Name, &c.Type, &c.Flags, &lastAdvert, &lastMod); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		copy(c.Prefix[:], prefix)
		c.LastAdvert = uint32(lastAdvert)
		c.LastModified = uint32(lastMod)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}
