package store

// Contact is the canonical record for one real-world person.
type Contact struct {
	CanonicalID string   `json:"canonical_id"`
	DisplayName string   `json:"display_name"`
	Aliases     []string `json:"aliases"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// PlatformIdentity is one platform-specific account bound to a contact.
type PlatformIdentity struct {
	ID          int64   `json:"id"`
	ContactID   string  `json:"contact_id"`
	Platform    string  `json:"platform"`
	PlatformID  string  `json:"platform_id"`
	Username    string  `json:"username,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	LastSeenAt  *int64  `json:"last_seen_at,omitempty"`
}

// IdentityInput is the payload for AddIdentity. Phone is normalized on write;
// values that do not look like a phone number are stored as NULL.
type IdentityInput struct {
	ContactID   string
	Platform    string
	PlatformID  string
	Username    string
	Phone       string
	DisplayName string
	LastSeenAt  *int64
}

// ContactWithIdentities bundles a contact with all its platform identities.
type ContactWithIdentities struct {
	Contact    Contact            `json:"contact"`
	Identities []PlatformIdentity `json:"identities"`
}

// ContactUpdate is a partial update; nil fields keep their prior values.
type ContactUpdate struct {
	DisplayName *string
	Aliases     *[]string
}

// ListOptions filters ListContacts.
type ListOptions struct {
	Query    string // substring of display name or serialized alias list
	Platform string // contacts owning at least one identity on this platform
	Limit    int
}

// IndexedMessage is a denormalized, searchable record of one platform message.
type IndexedMessage struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	ContactID *string `json:"contact_id,omitempty"`
	Platform  string  `json:"platform"`
	SenderID  string  `json:"sender_id"`
	ChannelID string  `json:"channel_id,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Embedding []byte  `json:"embedding,omitempty"`
}

// MessageSearchOptions filters SearchMessages.
type MessageSearchOptions struct {
	Query     string
	From      string   // free-form sender filter, resolved via contact search
	Platforms []string // restrict to these platforms (empty = all)
	ChannelID string
	Since     int64 // inclusive lower bound on timestamp (0 = no bound)
	Until     int64 // inclusive upper bound on timestamp (0 = no bound)
	Limit     int   // default 50
}

// MessageSearchResult is one search hit with its relevance score and snippet.
type MessageSearchResult struct {
	Message IndexedMessage `json:"message"`
	Score   float64        `json:"score"`
	Snippet string         `json:"snippet"`
}

// Stats summarizes the contact graph for operator-facing output.
type Stats struct {
	Contacts            int            `json:"contacts"`
	Identities          int            `json:"identities"`
	IndexedMessages     int            `json:"indexed_messages"`
	IdentitiesByPlatform map[string]int `json:"identities_by_platform"`
}
