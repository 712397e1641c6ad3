package store

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
)

const (
	defaultSearchLimit = 50
	snippetBefore      = 50
	snippetAfter       = 100
)

// IndexMessage resolves the sender to a contact and upserts the message into
// the index, mirroring it into the FTS table when available. The message row,
// its FTS mirror and the sender's last_seen bump commit together or not at
// all. The resolved contact_id is denormalized at index time and is not
// rewritten by later merges or splits.
func (s *Store) IndexMessage(msg IndexedMessage) error {
	contactID, err := s.ResolveContact(msg.Platform, msg.SenderID)
	if err != nil {
		return err
	}

	var contactVal any
	if contactID != "" {
		contactVal = contactID
	}
	var channelVal any
	if msg.ChannelID != "" {
		channelVal = msg.ChannelID
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin index: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO indexed_messages (id, content, contact_id, platform, sender_id, channel_id, timestamp, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			contact_id = excluded.contact_id,
			platform = excluded.platform,
			sender_id = excluded.sender_id,
			channel_id = excluded.channel_id,
			timestamp = excluded.timestamp,
			embedding = excluded.embedding
	`, msg.ID, msg.Content, contactVal, msg.Platform, msg.SenderID, channelVal, msg.Timestamp, msg.Embedding); err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}

	if s.ftsAvailable {
		// FTS5 has no upsert; replace the mirror row by id.
		if _, err := tx.Exec(`DELETE FROM messages_fts WHERE id = ?`, msg.ID); err != nil {
			return fmt.Errorf("failed to clear fts mirror: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages_fts (id, content, contact_id, platform, sender_id, channel_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.Content, contactVal, msg.Platform, msg.SenderID, channelVal, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to write fts mirror: %w", err)
		}
	}

	if contactID != "" {
		if _, err := tx.Exec(`
			UPDATE platform_identities SET last_seen_at = ? WHERE platform = ? AND platform_id = ?
		`, nowMillis(), msg.Platform, msg.SenderID); err != nil {
			return fmt.Errorf("failed to touch sender identity: %w", err)
		}
	}

	return tx.Commit()
}

// SearchMessages searches indexed message content. With FTS5 available the
// query goes through the full-text index ranked by bm25; otherwise it
// degrades to a case-insensitive substring match ordered newest first. An
// empty query returns no results. A From filter that resolves to no contacts
// short-circuits to no results rather than degrading to an unfiltered search.
func (s *Store) SearchMessages(opts MessageSearchOptions) ([]MessageSearchResult, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var contactIDs []string
	if opts.From != "" {
		contacts, err := s.SearchContacts(opts.From, defaultSearchLimit)
		if err != nil {
			return nil, err
		}
		if len(contacts) == 0 {
			return nil, nil
		}
		for _, c := range contacts {
			contactIDs = append(contactIDs, c.CanonicalID)
		}
	}

	if s.ftsAvailable {
		return s.searchMessagesFTS(query, contactIDs, opts, limit)
	}
	return s.searchMessagesSubstring(query, contactIDs, opts, limit)
}

func appendMessageFilters(query string, args []any, contactIDs []string, opts MessageSearchOptions) (string, []any) {
	if len(contactIDs) > 0 {
		placeholders := make([]string, len(contactIDs))
		for i, id := range contactIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " AND m.contact_id IN (" + strings.Join(placeholders, ",") + ")"
	}
	if len(opts.Platforms) > 0 {
		placeholders := make([]string, len(opts.Platforms))
		for i, p := range opts.Platforms {
			placeholders[i] = "?"
			args = append(args, p)
		}
		query += " AND m.platform IN (" + strings.Join(placeholders, ",") + ")"
	}
	if opts.ChannelID != "" {
		query += " AND m.channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if opts.Since > 0 {
		query += " AND m.timestamp >= ?"
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		query += " AND m.timestamp <= ?"
		args = append(args, opts.Until)
	}
	return query, args
}

func (s *Store) searchMessagesFTS(query string, contactIDs []string, opts MessageSearchOptions, limit int) ([]MessageSearchResult, error) {
	safeQuery := escapeFTSQuery(query)
	if safeQuery == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT m.id, m.content, m.contact_id, m.platform, m.sender_id, m.channel_id, m.timestamp, m.embedding,
		       bm25(messages_fts) AS score
		FROM messages_fts f
		JOIN indexed_messages m ON m.id = f.id
		WHERE messages_fts MATCH ?`
	args := []any{safeQuery}
	sqlQuery, args = appendMessageFilters(sqlQuery, args, contactIDs, opts)

	// bm25 is negative for relevant rows; ascending raw order is best first.
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []MessageSearchResult
	for rows.Next() {
		msg, score, err := scanMessageWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		results = append(results, MessageSearchResult{
			Message: *msg,
			Score:   math.Abs(score),
			Snippet: buildSnippet(msg.Content, query),
		})
	}
	return results, rows.Err()
}

func (s *Store) searchMessagesSubstring(query string, contactIDs []string, opts MessageSearchOptions, limit int) ([]MessageSearchResult, error) {
	sqlQuery := `
		SELECT m.id, m.content, m.contact_id, m.platform, m.sender_id, m.channel_id, m.timestamp, m.embedding
		FROM indexed_messages m
		WHERE LOWER(m.content) LIKE ?`
	args := []any{"%" + strings.ToLower(query) + "%"}
	sqlQuery, args = appendMessageFilters(sqlQuery, args, contactIDs, opts)

	sqlQuery += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []MessageSearchResult
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		// No relevance signal on this path.
		results = append(results, MessageSearchResult{
			Message: *msg,
			Score:   1.0,
			Snippet: buildSnippet(msg.Content, query),
		})
	}
	return results, rows.Err()
}

func scanMessage(row rowScanner) (*IndexedMessage, error) {
	var msg IndexedMessage
	var contactID, channelID sql.NullString
	if err := row.Scan(&msg.ID, &msg.Content, &contactID, &msg.Platform, &msg.SenderID, &channelID, &msg.Timestamp, &msg.Embedding); err != nil {
		return nil, err
	}
	if contactID.Valid {
		msg.ContactID = &contactID.String
	}
	msg.ChannelID = channelID.String
	return &msg, nil
}

func scanMessageWithScore(row rowScanner) (*IndexedMessage, float64, error) {
	var msg IndexedMessage
	var contactID, channelID sql.NullString
	var score float64
	if err := row.Scan(&msg.ID, &msg.Content, &contactID, &msg.Platform, &msg.SenderID, &channelID, &msg.Timestamp, &msg.Embedding, &score); err != nil {
		return nil, 0, err
	}
	if contactID.Valid {
		msg.ContactID = &contactID.String
	}
	msg.ChannelID = channelID.String
	return &msg, score, nil
}

// buildSnippet extracts context around the first case-insensitive occurrence
// of query in content: up to snippetBefore bytes before the match and
// snippetAfter after, nudged to word boundaries, with ellipsis markers when
// the window does not reach the content edge. Content without a match gets a
// head truncation.
func buildSnippet(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		if len(content) <= snippetBefore+snippetAfter {
			return content
		}
		return content[:snippetBefore+snippetAfter] + "..."
	}

	start := idx - snippetBefore
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + snippetAfter
	if end > len(content) {
		end = len(content)
	}

	// Avoid splitting words: move start forward to the next space and end
	// back to the previous one, staying clear of the match itself.
	if start > 0 {
		if sp := strings.IndexByte(content[start:idx], ' '); sp >= 0 {
			start += sp + 1
		}
	}
	if end < len(content) {
		matchEnd := idx + len(query)
		if sp := strings.LastIndexByte(content[matchEnd:end], ' '); sp >= 0 {
			end = matchEnd + sp
		}
	}

	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}

// escapeFTSQuery quotes each term so FTS5 operator characters in user input
// cannot break the MATCH expression. Terms are OR-joined for broad matching.
func escapeFTSQuery(query string) string {
	terms := strings.Fields(query)
	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped = append(escaped, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	if len(escaped) == 0 {
		return ""
	}
	return strings.Join(escaped, " OR ")
}
