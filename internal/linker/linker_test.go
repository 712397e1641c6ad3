package linker

import (
	"testing"

	"github.com/skein-dev/skein/internal/store"
	"github.com/skein-dev/skein/internal/testutil"
)

func mustCreate(t *testing.T, s *store.Store, name string) *store.Contact {
	t.Helper()
	c, err := s.CreateContact(name, nil)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return c
}

func mustAddIdentity(t *testing.T, s *store.Store, in store.IdentityInput) *store.PlatformIdentity {
	t.Helper()
	pi, err := s.AddIdentity(in)
	if err != nil {
		t.Fatalf("add identity %s:%s: %v", in.Platform, in.PlatformID, err)
	}
	return pi
}

func TestFindPhoneMatches(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: a.CanonicalID, Platform: "whatsapp", PlatformID: "+15551234567", Phone: "+15551234567",
	})
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: b.CanonicalID, Platform: "telegram", PlatformID: "w_alice", Phone: "(555) 123-4567",
	})

	suggestions, err := FindPhoneMatches(s)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("expected exactly one suggestion (no mirror pair), got %d", len(suggestions))
	}
	sug := suggestions[0]
	if sug.Reason != ReasonPhoneMatch || sug.Confidence != ConfidenceHigh || sug.Score != 1.0 {
		t.Errorf("unexpected suggestion: %+v", sug)
	}
	got := map[string]bool{sug.Source.ContactID: true, sug.Target.ContactID: true}
	if !got[a.CanonicalID] || !got[b.CanonicalID] {
		t.Errorf("suggestion does not span contacts A and B: %+v", sug)
	}
}

func TestFindPhoneMatchesSkipsAlreadyLinked(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "A")
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: a.CanonicalID, Platform: "whatsapp", PlatformID: "+15551234567", Phone: "+15551234567",
	})
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: a.CanonicalID, Platform: "signal", PlatformID: "sig1", Phone: "555 123 4567",
	})

	suggestions, err := FindPhoneMatches(s)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(suggestions) != 0 {
		t.Fatalf("same-contact phone sharing must not produce suggestions: %+v", suggestions)
	}
}

func TestFindNameMatchesConfidenceTiers(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice Johnson")
	b := mustCreate(t, s, "Alice Jonson")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: b.CanonicalID, Platform: "discord", PlatformID: "d1"})

	suggestions, err := FindNameMatches(s, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}
	// 1 − 1/13 ≈ 0.923: above threshold, below the high tier.
	if suggestions[0].Confidence != ConfidenceMedium {
		t.Errorf("one-edit name pair should be medium, got %s", suggestions[0].Confidence)
	}

	caseOnly := mustCreate(t, s, "alice  johnson ")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: caseOnly.CanonicalID, Platform: "matrix", PlatformID: "@aj"})

	suggestions, err = FindNameMatches(s, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	var foundHigh bool
	for _, sug := range suggestions {
		pair := map[string]bool{sug.Source.ContactID: true, sug.Target.ContactID: true}
		if pair[a.CanonicalID] && pair[caseOnly.CanonicalID] {
			if sug.Confidence != ConfidenceHigh || sug.Score != 1.0 {
				t.Errorf("normalized-equal names should be high/1.0: %+v", sug)
			}
			foundHigh = true
		}
	}
	if !foundHigh {
		t.Error("missing suggestion for the case/whitespace-only pair")
	}
}

func TestFindNameMatchesIdentityDisplayNames(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Work Account")
	b := mustCreate(t, s, "Personal Account")
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1", DisplayName: "Sam Oakley",
	})
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: b.CanonicalID, Platform: "discord", PlatformID: "d1", DisplayName: "Sam Oakley",
	})

	suggestions, err := FindNameMatches(s, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 identity-level suggestion, got %d: %+v", len(suggestions), suggestions)
	}
	if suggestions[0].Confidence != ConfidenceHigh {
		t.Errorf("identical identity display names should be high, got %s", suggestions[0].Confidence)
	}
}

func TestFindLinkSuggestionsRanking(t *testing.T) {
	s := testutil.OpenTestStore(t)

	// Medium name pair plus a high phone pair.
	a := mustCreate(t, s, "Alice Johnson")
	b := mustCreate(t, s, "Alice Jonson")
	c := mustCreate(t, s, "C")
	d := mustCreate(t, s, "D")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: b.CanonicalID, Platform: "discord", PlatformID: "d1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: c.CanonicalID, Platform: "whatsapp", PlatformID: "w1", Phone: "+15550001111"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: d.CanonicalID, Platform: "signal", PlatformID: "s1", Phone: "+15550001111"})

	suggestions, err := FindLinkSuggestions(s)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(suggestions))
	}
	if suggestions[0].Confidence != ConfidenceHigh || suggestions[1].Confidence != ConfidenceMedium {
		t.Errorf("suggestions not ranked by confidence: %+v", suggestions)
	}
}

func TestLinkContactsConservation(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice")
	b := mustCreate(t, s, "Allie")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "discord", PlatformID: "d1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: b.CanonicalID, Platform: "matrix", PlatformID: "@b"})

	result, err := LinkContacts(s, a.CanonicalID, b.CanonicalID)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !result.Success {
		t.Fatalf("link failed: %s", result.Error)
	}

	identities, err := s.IdentitiesByContact(a.CanonicalID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(identities) != 3 {
		t.Fatalf("expected primary to own 3 identities, got %d", len(identities))
	}

	gone, err := s.GetContact(b.CanonicalID)
	if err != nil {
		t.Fatalf("get secondary: %v", err)
	}
	if gone != nil {
		t.Fatal("secondary contact survived the merge")
	}

	primary, err := s.GetContact(a.CanonicalID)
	if err != nil {
		t.Fatalf("get primary: %v", err)
	}
	var hasAlias bool
	for _, alias := range primary.Aliases {
		if alias == "Allie" {
			hasAlias = true
		}
	}
	if !hasAlias {
		t.Errorf("secondary display name missing from aliases: %v", primary.Aliases)
	}
}

func TestLinkContactsMissing(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice")

	result, err := LinkContacts(s, a.CanonicalID, "nope")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("expected failure result for missing secondary, got %+v", result)
	}

	result, err = LinkContacts(s, "nope", a.CanonicalID)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure result for missing primary, got %+v", result)
	}

	// No partial effects: the surviving contact is untouched.
	got, _ := s.GetContact(a.CanonicalID)
	if got == nil || len(got.Aliases) != 0 {
		t.Fatalf("failed link must leave contacts unchanged: %+v", got)
	}
}

func TestUnlinkIdentityGuard(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})

	result, err := UnlinkIdentity(s, "slack", "U1")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if result.Success {
		t.Fatal("unlinking the only identity must fail")
	}
	if result.Error != "cannot unlink the only identity" {
		t.Errorf("unexpected error message: %q", result.Error)
	}
}

func TestUnlinkIdentitySplit(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{
		ContactID: a.CanonicalID, Platform: "discord", PlatformID: "d1", DisplayName: "Alt Alice",
	})

	result, err := UnlinkIdentity(s, "discord", "d1")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if !result.Success || result.ContactID == "" {
		t.Fatalf("expected successful split, got %+v", result)
	}

	remaining, _ := s.IdentitiesByContact(a.CanonicalID)
	if len(remaining) != 1 || remaining[0].PlatformID != "U1" {
		t.Fatalf("original contact should keep exactly slack:U1, got %+v", remaining)
	}

	split, err := s.ContactWithIdentities(result.ContactID)
	if err != nil {
		t.Fatalf("get split contact: %v", err)
	}
	if split == nil {
		t.Fatal("split contact missing")
	}
	if split.Contact.DisplayName != "Alt Alice" {
		t.Errorf("split contact named %q, expected identity display name", split.Contact.DisplayName)
	}
	if len(split.Identities) != 1 || split.Identities[0].PlatformID != "d1" {
		t.Fatalf("split contact should own exactly discord:d1, got %+v", split.Identities)
	}
}

func TestUnlinkIdentityNameFallback(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "Alice")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "discord", PlatformID: "d1", Username: "alt_alice"})

	result, err := UnlinkIdentity(s, "discord", "d1")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	split, _ := s.GetContact(result.ContactID)
	if split.DisplayName != "alt_alice" {
		t.Errorf("expected username fallback, got %q", split.DisplayName)
	}
}

func TestUnlinkIdentityMissing(t *testing.T) {
	s := testutil.OpenTestStore(t)

	result, err := UnlinkIdentity(s, "slack", "nope")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if result.Success || result.Error != "identity not found" {
		t.Fatalf("expected identity-not-found result, got %+v", result)
	}
}

func TestAutoLinkHighConfidenceIdempotent(t *testing.T) {
	s := testutil.OpenTestStore(t)

	a := mustCreate(t, s, "John Smith")
	b := mustCreate(t, s, "John Smith")
	c := mustCreate(t, s, "Completely Different")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "slack", PlatformID: "U1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: b.CanonicalID, Platform: "discord", PlatformID: "d1"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: c.CanonicalID, Platform: "matrix", PlatformID: "@c"})

	first, err := AutoLinkHighConfidence(s)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Linked != 1 {
		t.Fatalf("first pass linked %d, expected 1", first.Linked)
	}

	second, err := AutoLinkHighConfidence(s)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Linked != 0 {
		t.Fatalf("second pass linked %d, expected 0", second.Linked)
	}

	contacts, err := s.AllContacts()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 surviving contacts, got %d", len(contacts))
	}
}

func TestAutoLinkDoesNotChainProcessedContacts(t *testing.T) {
	s := testutil.OpenTestStore(t)

	// Three contacts sharing one phone: pairs (A,B), (A,C), (B,C) all high.
	// After A absorbs B, the (B,C) pair must be skipped; (A,C) also touches
	// nothing processed, so A absorbs C in the same pass.
	a := mustCreate(t, s, "AA")
	b := mustCreate(t, s, "BB")
	c := mustCreate(t, s, "CC")
	mustAddIdentity(t, s, store.IdentityInput{ContactID: a.CanonicalID, Platform: "whatsapp", PlatformID: "w1", Phone: "+15550001111"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: b.CanonicalID, Platform: "signal", PlatformID: "s1", Phone: "+15550001111"})
	mustAddIdentity(t, s, store.IdentityInput{ContactID: c.CanonicalID, Platform: "telegram", PlatformID: "t1", Phone: "+15550001111"})

	result, err := AutoLinkHighConfidence(s)
	if err != nil {
		t.Fatalf("autolink: %v", err)
	}
	if result.Linked != 2 {
		t.Fatalf("expected 2 merges, got %d", result.Linked)
	}

	contacts, _ := s.AllContacts()
	if len(contacts) != 1 {
		t.Fatalf("expected a single surviving contact, got %d", len(contacts))
	}
	identities, _ := s.IdentitiesByContact(contacts[0].CanonicalID)
	if len(identities) != 3 {
		t.Fatalf("surviving contact should own all 3 identities, got %d", len(identities))
	}
}
