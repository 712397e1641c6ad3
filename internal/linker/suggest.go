package linker

import (
	"sort"

	"github.com/skein-dev/skein/internal/store"
)

// Reason explains what evidence produced a link suggestion.
type Reason string

const (
	ReasonPhoneMatch     Reason = "phone_match"
	ReasonNameSimilarity Reason = "name_similarity"
)

// Confidence buckets how trustworthy a suggestion is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// Suggestion proposes that the contacts owning Source and Target are the same
// person. Suggestions are ephemeral and never persisted.
type Suggestion struct {
	Source     store.PlatformIdentity `json:"source_identity"`
	Target     store.PlatformIdentity `json:"target_identity"`
	Reason     Reason                 `json:"reason"`
	Confidence Confidence             `json:"confidence"`
	Score      float64                `json:"score"`
}

// FindPhoneMatches suggests merges for contacts whose identities share a
// normalized phone number. Identities already under one contact are skipped;
// each unordered contact pair yields exactly one suggestion per shared phone,
// always high confidence.
func FindPhoneMatches(s *store.Store) ([]Suggestion, error) {
	identities, err := s.AllIdentities()
	if err != nil {
		return nil, err
	}

	byPhone := make(map[string][]store.PlatformIdentity)
	var phones []string
	for _, pi := range identities {
		if pi.Phone == nil {
			continue
		}
		if _, seen := byPhone[*pi.Phone]; !seen {
			phones = append(phones, *pi.Phone)
		}
		byPhone[*pi.Phone] = append(byPhone[*pi.Phone], pi)
	}
	sort.Strings(phones)

	var suggestions []Suggestion
	for _, phone := range phones {
		sharing := byPhone[phone]
		if len(sharing) < 2 {
			continue
		}

		byContact := make(map[string][]store.PlatformIdentity)
		var contactIDs []string
		for _, pi := range sharing {
			if _, seen := byContact[pi.ContactID]; !seen {
				contactIDs = append(contactIDs, pi.ContactID)
			}
			byContact[pi.ContactID] = append(byContact[pi.ContactID], pi)
		}
		if len(contactIDs) < 2 {
			continue // already linked
		}
		sort.Strings(contactIDs)

		for i := 0; i < len(contactIDs); i++ {
			for j := i + 1; j < len(contactIDs); j++ {
				suggestions = append(suggestions, Suggestion{
					Source:     byContact[contactIDs[i]][0],
					Target:     byContact[contactIDs[j]][0],
					Reason:     ReasonPhoneMatch,
					Confidence: ConfidenceHigh,
					Score:      1.0,
				})
			}
		}
	}
	return suggestions, nil
}

// FindNameMatches suggests merges for contacts with similar display names,
// and for similar identity display names across contact pairs. Similarity at
// or above 0.95 is high confidence, at or above minScore medium. minScore <= 0
// defaults to 0.85.
func FindNameMatches(s *store.Store, minScore float64) ([]Suggestion, error) {
	if minScore <= 0 {
		minScore = 0.85
	}

	contacts, err := s.AllContacts()
	if err != nil {
		return nil, err
	}
	identities, err := s.AllIdentities()
	if err != nil {
		return nil, err
	}
	byContact := make(map[string][]store.PlatformIdentity)
	for _, pi := range identities {
		byContact[pi.ContactID] = append(byContact[pi.ContactID], pi)
	}

	confidenceFor := func(score float64) Confidence {
		if score >= 0.95 {
			return ConfidenceHigh
		}
		return ConfidenceMedium
	}

	var suggestions []Suggestion
	seenPairs := make(map[[2]int64]bool)
	markPair := func(a, b store.PlatformIdentity) {
		if a.ID > b.ID {
			a, b = b, a
		}
		seenPairs[[2]int64{a.ID, b.ID}] = true
	}
	pairSeen := func(a, b store.PlatformIdentity) bool {
		if a.ID > b.ID {
			a, b = b, a
		}
		return seenPairs[[2]int64{a.ID, b.ID}]
	}

	for i := 0; i < len(contacts); i++ {
		for j := i + 1; j < len(contacts); j++ {
			c1, c2 := contacts[i], contacts[j]
			ids1, ids2 := byContact[c1.CanonicalID], byContact[c2.CanonicalID]
			if len(ids1) == 0 || len(ids2) == 0 {
				continue // nothing to link without identities on both sides
			}

			if score := Similarity(c1.DisplayName, c2.DisplayName); score >= minScore {
				suggestions = append(suggestions, Suggestion{
					Source:     ids1[0],
					Target:     ids2[0],
					Reason:     ReasonNameSimilarity,
					Confidence: confidenceFor(score),
					Score:      score,
				})
				markPair(ids1[0], ids2[0])
			}

			for _, a := range ids1 {
				if a.DisplayName == "" {
					continue
				}
				for _, b := range ids2 {
					if b.DisplayName == "" {
						continue
					}
					score := Similarity(a.DisplayName, b.DisplayName)
					if score < minScore || pairSeen(a, b) {
						continue
					}
					suggestions = append(suggestions, Suggestion{
						Source:     a,
						Target:     b,
						Reason:     ReasonNameSimilarity,
						Confidence: confidenceFor(score),
						Score:      score,
					})
					markPair(a, b)
				}
			}
		}
	}
	return suggestions, nil
}

// FindLinkSuggestions combines phone and name detection, ranked by confidence
// tier and then score, best first.
func FindLinkSuggestions(s *store.Store) ([]Suggestion, error) {
	phone, err := FindPhoneMatches(s)
	if err != nil {
		return nil, err
	}
	name, err := FindNameMatches(s, 0)
	if err != nil {
		return nil, err
	}

	suggestions := append(phone, name...)
	sort.SliceStable(suggestions, func(i, j int) bool {
		ri, rj := confidenceRank(suggestions[i].Confidence), confidenceRank(suggestions[j].Confidence)
		if ri != rj {
			return ri > rj
		}
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions, nil
}
