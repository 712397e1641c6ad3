// Package store is the sole gateway to the durable contact graph: canonical
// contacts, their platform identities, and the message index all live in one
// sqlite file owned by a single Store handle.
//
// The handle is not safe for unsynchronized concurrent use; callers sharing a
// Store across goroutines must serialize access themselves.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skein-dev/skein/internal/db"
)

const maxSlugLen = 40

// Store owns the persistent handle for the contact graph.
type Store struct {
	db           *sql.DB
	ftsAvailable bool
}

// Option configures a Store at open time.
type Option func(*Store)

// WithoutFullText forces the substring search path even when the sqlite
// build supports FTS5.
func WithoutFullText() Option {
	return func(s *Store) { s.ftsAvailable = false }
}

// Open opens the contact database at path, creating schema on first use.
// A sqlite build without FTS5 still opens; message search degrades to the
// substring path.
func Open(path string, opts ...Option) (*Store, error) {
	conn, ftsAvailable, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn, ftsAvailable: ftsAvailable}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle. The store may be reopened
// with Open afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}

// FullTextAvailable reports whether message search uses the FTS5 index.
func (s *Store) FullTextAvailable() bool {
	return s.ftsAvailable
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Slugify lowercases s, collapses non-alphanumeric runs to single dashes and
// bounds the length. An empty result falls back to "contact".
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "contact"
	}
	return slug
}

func newCanonicalID(displayName string) string {
	return Slugify(displayName) + "-" + uuid.NewString()[:8]
}

// NormalizePhone reduces a free-form phone string to an E.164-like form.
// Everything except digits and a leading "+" is stripped; a bare 10-digit
// number is assumed to be NANP and prefixed with +1. Fewer than 10 digits is
// not a phone and returns "". Both the identity write path and the lookup
// path go through this single function.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	hasPlus := false
	for i, r := range phone {
		if r == '+' && i == 0 {
			hasPlus = true
			continue
		}
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 {
		return ""
	}
	if hasPlus {
		return "+" + d
	}
	if len(d) == 10 {
		return "+1" + d
	}
	return "+" + d
}

func encodeAliases(aliases []string) string {
	if aliases == nil {
		aliases = []string{}
	}
	data, _ := json.Marshal(aliases)
	return string(data)
}

func decodeAliases(raw string) []string {
	var aliases []string
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &aliases)
	}
	if aliases == nil {
		aliases = []string{}
	}
	return aliases
}

type rowScanner interface {
	Scan(dest ...any) error
}

const contactColumns = "canonical_id, display_name, aliases, created_at, updated_at"

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var aliasesJSON string
	if err := row.Scan(&c.CanonicalID, &c.DisplayName, &aliasesJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Aliases = decodeAliases(aliasesJSON)
	return &c, nil
}

// CreateContact creates a canonical contact. The canonical id is generated
// from the slugified display name plus a random suffix and never changes.
func (s *Store) CreateContact(displayName string, aliases []string) (*Contact, error) {
	now := nowMillis()
	c := &Contact{
		CanonicalID: newCanonicalID(displayName),
		DisplayName: displayName,
		Aliases:     append([]string(nil), aliases...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.Aliases == nil {
		c.Aliases = []string{}
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (canonical_id, display_name, aliases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.CanonicalID, c.DisplayName, encodeAliases(c.Aliases), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return c, nil
}

// GetContact returns the contact or (nil, nil) when the id is unknown.
func (s *Store) GetContact(id string) (*Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE canonical_id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// UpdateContact applies a partial update and reports whether the contact
// existed. Unset fields keep their prior values.
func (s *Store) UpdateContact(id string, upd ContactUpdate) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{nowMillis()}
	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *upd.DisplayName)
	}
	if upd.Aliases != nil {
		sets = append(sets, "aliases = ?")
		args = append(args, encodeAliases(*upd.Aliases))
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE contacts SET `+strings.Join(sets, ", ")+` WHERE canonical_id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update contact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteContact removes the contact and, by cascade, all its platform
// identities. Returns whether a row was actually removed.
func (s *Store) DeleteContact(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE canonical_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete contact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListContacts lists contacts ordered by updated_at descending. Query matches
// substrings of the display name or the serialized alias list; Platform
// restricts to contacts owning at least one identity on that platform.
func (s *Store) ListContacts(opts ListOptions) ([]Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE 1=1`
	var args []any

	if opts.Query != "" {
		pattern := "%" + strings.ToLower(opts.Query) + "%"
		query += ` AND (LOWER(display_name) LIKE ? OR LOWER(aliases) LIKE ?)`
		args = append(args, pattern, pattern)
	}
	if opts.Platform != "" {
		query += ` AND canonical_id IN (SELECT contact_id FROM platform_identities WHERE platform = ?)`
		args = append(args, opts.Platform)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// SearchContacts matches across display name, aliases, identity username and
// identity display name, deduplicated per contact, newest first.
func (s *Store) SearchContacts(query string, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.Query(`
		SELECT DISTINCT c.canonical_id, c.display_name, c.aliases, c.created_at, c.updated_at
		FROM contacts c
		LEFT JOIN platform_identities pi ON pi.contact_id = c.canonical_id
		WHERE LOWER(c.display_name) LIKE ?
		   OR LOWER(c.aliases) LIKE ?
		   OR LOWER(pi.username) LIKE ?
		   OR LOWER(pi.display_name) LIKE ?
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// ContactWithIdentities returns the contact plus all its platform identities,
// or (nil, nil) when the contact does not exist.
func (s *Store) ContactWithIdentities(id string) (*ContactWithIdentities, error) {
	c, err := s.GetContact(id)
	if err != nil || c == nil {
		return nil, err
	}
	identities, err := s.IdentitiesByContact(id)
	if err != nil {
		return nil, err
	}
	return &ContactWithIdentities{Contact: *c, Identities: identities}, nil
}

// AllContacts returns every contact ordered by updated_at descending. Used
// by the linker, which compares all contact pairs.
func (s *Store) AllContacts() ([]Contact, error) {
	rows, err := s.db.Query(`SELECT ` + contactColumns + ` FROM contacts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

const identityColumns = "id, contact_id, platform, platform_id, username, phone, display_name, last_seen_at"

func scanIdentity(row rowScanner) (*PlatformIdentity, error) {
	var pi PlatformIdentity
	var username, phone, displayName sql.NullString
	var lastSeenAt sql.NullInt64
	if err := row.Scan(&pi.ID, &pi.ContactID, &pi.Platform, &pi.PlatformID, &username, &phone, &displayName, &lastSeenAt); err != nil {
		return nil, err
	}
	pi.Username = username.String
	pi.DisplayName = displayName.String
	if phone.Valid {
		pi.Phone = &phone.String
	}
	if lastSeenAt.Valid {
		pi.LastSeenAt = &lastSeenAt.Int64
	}
	return &pi, nil
}

// AddIdentity upserts a platform identity keyed on (platform, platform_id).
// On conflict all mutable fields are overwritten, including contact_id: this
// is how an identity moves between contacts. The returned identity is read
// back from storage so it reflects exactly what was persisted.
func (s *Store) AddIdentity(in IdentityInput) (*PlatformIdentity, error) {
	var phone any
	if normalized := NormalizePhone(in.Phone); normalized != "" {
		phone = normalized
	}
	var username, displayName any
	if in.Username != "" {
		username = in.Username
	}
	if in.DisplayName != "" {
		displayName = in.DisplayName
	}
	var lastSeenAt any
	if in.LastSeenAt != nil {
		lastSeenAt = *in.LastSeenAt
	}

	_, err := s.db.Exec(`
		INSERT INTO platform_identities (contact_id, platform, platform_id, username, phone, display_name, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, platform_id) DO UPDATE SET
			contact_id = excluded.contact_id,
			username = excluded.username,
			phone = excluded.phone,
			display_name = excluded.display_name,
			last_seen_at = excluded.last_seen_at
	`, in.ContactID, in.Platform, in.PlatformID, username, phone, displayName, lastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}

	pi, err := s.IdentityByPlatformID(in.Platform, in.PlatformID)
	if err != nil {
		return nil, err
	}
	if pi == nil {
		return nil, fmt.Errorf("identity %s:%s missing after upsert", in.Platform, in.PlatformID)
	}
	return pi, nil
}

// IdentitiesByContact returns all identities owned by the contact.
func (s *Store) IdentitiesByContact(contactID string) ([]PlatformIdentity, error) {
	rows, err := s.db.Query(`
		SELECT `+identityColumns+` FROM platform_identities WHERE contact_id = ? ORDER BY id
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var identities []PlatformIdentity
	for rows.Next() {
		pi, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *pi)
	}
	return identities, rows.Err()
}

// IdentityByPlatformID returns the identity or (nil, nil) when unknown.
func (s *Store) IdentityByPlatformID(platform, platformID string) (*PlatformIdentity, error) {
	row := s.db.QueryRow(`
		SELECT `+identityColumns+` FROM platform_identities WHERE platform = ? AND platform_id = ?
	`, platform, platformID)
	pi, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return pi, nil
}

// IdentitiesByPhone returns all identities sharing the (normalized) phone.
func (s *Store) IdentitiesByPhone(phone string) ([]PlatformIdentity, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT `+identityColumns+` FROM platform_identities WHERE phone = ? ORDER BY id
	`, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities by phone: %w", err)
	}
	defer rows.Close()

	var identities []PlatformIdentity
	for rows.Next() {
		pi, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *pi)
	}
	return identities, rows.Err()
}

// AllIdentities returns every platform identity in the store.
func (s *Store) AllIdentities() ([]PlatformIdentity, error) {
	rows, err := s.db.Query(`SELECT ` + identityColumns + ` FROM platform_identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var identities []PlatformIdentity
	for rows.Next() {
		pi, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *pi)
	}
	return identities, rows.Err()
}

// TouchIdentity bumps last_seen_at for the identity, if it exists.
func (s *Store) TouchIdentity(platform, platformID string) error {
	_, err := s.db.Exec(`
		UPDATE platform_identities SET last_seen_at = ? WHERE platform = ? AND platform_id = ?
	`, nowMillis(), platform, platformID)
	if err != nil {
		return fmt.Errorf("failed to touch identity: %w", err)
	}
	return nil
}

// ResolveContact maps (platform, platformID) to the owning contact id, or ""
// when no identity matches. This is the hot path for inbound messages: a
// single lookup against the (platform, platform_id) unique index.
func (s *Store) ResolveContact(platform, platformID string) (string, error) {
	var contactID string
	err := s.db.QueryRow(`
		SELECT contact_id FROM platform_identities WHERE platform = ? AND platform_id = ?
	`, platform, platformID).Scan(&contactID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve contact: %w", err)
	}
	return contactID, nil
}

// MergeContacts reparents every identity of secondaryID onto primaryID,
// replaces the primary's alias list with aliases, and deletes the secondary
// contact, all in one transaction. Validation (both contacts existing, alias
// union) is the linker's job.
func (s *Store) MergeContacts(primaryID, secondaryID string, aliases []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin merge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE platform_identities SET contact_id = ? WHERE contact_id = ?
	`, primaryID, secondaryID); err != nil {
		return fmt.Errorf("failed to move identities: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE contacts SET aliases = ?, updated_at = ? WHERE canonical_id = ?
	`, encodeAliases(aliases), nowMillis(), primaryID); err != nil {
		return fmt.Errorf("failed to update primary aliases: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM contacts WHERE canonical_id = ?`, secondaryID); err != nil {
		return fmt.Errorf("failed to delete merged contact: %w", err)
	}

	return tx.Commit()
}

// SplitIdentity creates a fresh contact and moves the identity onto it in one
// transaction. The guard against splitting a contact's only identity is the
// linker's job.
func (s *Store) SplitIdentity(platform, platformID, displayName string) (*Contact, error) {
	now := nowMillis()
	c := &Contact{
		CanonicalID: newCanonicalID(displayName),
		DisplayName: displayName,
		Aliases:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin split: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO contacts (canonical_id, display_name, aliases, created_at, updated_at)
		VALUES (?, ?, '[]', ?, ?)
	`, c.CanonicalID, c.DisplayName, c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create split contact: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE platform_identities SET contact_id = ? WHERE platform = ? AND platform_id = ?
	`, c.CanonicalID, platform, platformID)
	if err != nil {
		return nil, fmt.Errorf("failed to move identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("identity %s:%s not found", platform, platformID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// Stats returns operator-facing counts for the whole store.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{IdentitiesByPlatform: make(map[string]int)}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&stats.Contacts); err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM platform_identities`).Scan(&stats.Identities); err != nil {
		return nil, fmt.Errorf("failed to count identities: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM indexed_messages`).Scan(&stats.IndexedMessages); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.db.Query(`SELECT platform, COUNT(*) FROM platform_identities GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("failed to count identities by platform: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, err
		}
		stats.IdentitiesByPlatform[platform] = count
	}
	return stats, rows.Err()
}
