package linker

import "github.com/skein-dev/skein/internal/store"

// LinkResult reports a merge attempt. Expected failures (missing contacts,
// self-merge) come back as Success=false with Error set; storage failures are
// returned as Go errors by the operation itself.
type LinkResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UnlinkResult reports a split attempt. ContactID is the id of the freshly
// created contact on success.
type UnlinkResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// AutoLinkResult summarizes one auto-link pass.
type AutoLinkResult struct {
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
}

// LinkContacts merges secondaryID into primaryID: every identity of the
// secondary moves to the primary, the secondary's display name and aliases
// are unioned into the primary's alias list, and the secondary contact is
// deleted. The whole mutation is one transaction; a validation failure has no
// partial effects.
func LinkContacts(s *store.Store, primaryID, secondaryID string) (LinkResult, error) {
	if primaryID == secondaryID {
		return LinkResult{Error: "cannot link a contact to itself"}, nil
	}

	primary, err := s.GetContact(primaryID)
	if err != nil {
		return LinkResult{}, err
	}
	if primary == nil {
		return LinkResult{Error: "primary contact not found"}, nil
	}
	secondary, err := s.GetContact(secondaryID)
	if err != nil {
		return LinkResult{}, err
	}
	if secondary == nil {
		return LinkResult{Error: "secondary contact not found"}, nil
	}

	aliases := append([]string(nil), primary.Aliases...)
	seen := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		seen[a] = true
	}
	for _, a := range append([]string{secondary.DisplayName}, secondary.Aliases...) {
		if a == "" || seen[a] {
			continue
		}
		aliases = append(aliases, a)
		seen[a] = true
	}

	if err := s.MergeContacts(primaryID, secondaryID, aliases); err != nil {
		return LinkResult{}, err
	}
	return LinkResult{Success: true}, nil
}

// UnlinkIdentity splits an identity off its contact onto a brand-new contact.
// A contact's last identity cannot be unlinked: that would leave a contact
// with no identities.
func UnlinkIdentity(s *store.Store, platform, platformID string) (UnlinkResult, error) {
	identity, err := s.IdentityByPlatformID(platform, platformID)
	if err != nil {
		return UnlinkResult{}, err
	}
	if identity == nil {
		return UnlinkResult{Error: "identity not found"}, nil
	}

	siblings, err := s.IdentitiesByContact(identity.ContactID)
	if err != nil {
		return UnlinkResult{}, err
	}
	if len(siblings) <= 1 {
		return UnlinkResult{Error: "cannot unlink the only identity"}, nil
	}

	displayName := identity.DisplayName
	if displayName == "" {
		displayName = identity.Username
	}
	if displayName == "" {
		displayName = identity.PlatformID
	}

	contact, err := s.SplitIdentity(platform, platformID, displayName)
	if err != nil {
		return UnlinkResult{}, err
	}
	return UnlinkResult{Success: true, ContactID: contact.CanonicalID}, nil
}

// AutoLinkHighConfidence merges every high-confidence suggestion, in ranked
// order. A contact that was already part of an executed merge this pass is
// not touched again, so absorbed contacts never chain into further merges and
// a second run with no new matches links nothing.
func AutoLinkHighConfidence(s *store.Store) (AutoLinkResult, error) {
	suggestions, err := FindLinkSuggestions(s)
	if err != nil {
		return AutoLinkResult{}, err
	}

	var result AutoLinkResult
	processed := make(map[string]bool)
	for _, sug := range suggestions {
		if sug.Confidence != ConfidenceHigh {
			continue
		}
		primaryID, secondaryID := sug.Source.ContactID, sug.Target.ContactID
		if primaryID == secondaryID {
			continue // already linked
		}
		if processed[primaryID] || processed[secondaryID] {
			result.Skipped++
			continue
		}

		linked, err := LinkContacts(s, primaryID, secondaryID)
		if err != nil {
			return result, err
		}
		if !linked.Success {
			result.Skipped++
			continue
		}
		processed[secondaryID] = true
		result.Linked++
	}
	return result, nil
}
