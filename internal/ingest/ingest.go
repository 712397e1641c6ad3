// Package ingest is the inbound-message hook: it turns message batches from
// the outside world into indexed, contact-attributed rows in the store.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/skein-dev/skein/internal/store"
)

// Message is the wire shape of one inbound platform message. A batch file is
// a JSON array of these.
type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Platform  string `json:"platform"`
	SenderID  string `json:"sender_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Result counts what one ingest pass did.
type Result struct {
	Indexed  int `json:"indexed"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
}

// Processor indexes inbound messages through a store.
type Processor struct {
	store *store.Store
}

// NewProcessor returns a processor bound to s.
func NewProcessor(s *store.Store) *Processor {
	return &Processor{store: s}
}

// Process resolves the sender and indexes one message. It reports whether the
// sender resolved to a known contact.
func (p *Processor) Process(msg Message) (resolved bool, err error) {
	if msg.ID == "" || msg.Platform == "" || msg.SenderID == "" {
		return false, fmt.Errorf("message requires id, platform and sender_id")
	}
	contactID, err := p.store.ResolveContact(msg.Platform, msg.SenderID)
	if err != nil {
		return false, err
	}
	err = p.store.IndexMessage(store.IndexedMessage{
		ID:        msg.ID,
		Content:   msg.Content,
		Platform:  msg.Platform,
		SenderID:  msg.SenderID,
		ChannelID: msg.ChannelID,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return false, err
	}
	return contactID != "", nil
}

// ProcessBatch indexes a slice of messages. Malformed messages are skipped
// and counted; storage failures abort the batch.
func (p *Processor) ProcessBatch(msgs []Message) (Result, error) {
	var result Result
	for _, msg := range msgs {
		if msg.ID == "" || msg.Platform == "" || msg.SenderID == "" {
			result.Skipped++
			continue
		}
		resolved, err := p.Process(msg)
		if err != nil {
			return result, err
		}
		result.Indexed++
		if resolved {
			result.Resolved++
		}
	}
	return result, nil
}

// ProcessFile reads a JSON batch file and indexes its messages.
func (p *Processor) ProcessFile(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read batch file: %w", err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return Result{}, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	return p.ProcessBatch(msgs)
}
