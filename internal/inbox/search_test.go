package inbox

import (
	"context"
	"testing"

	"github.com/ozmetal/inbox/internal/store"
)

func searchSession(t *testing.T) *Session {
	t.Helper()
	backend := &fakeBackend{
		convs: []*store.Conversation{conv("905551112233", 3000, 0)},
		msgs: map[string][]*store.Message{
			"905551112233": {
				inMsg("905551112233", "wamid.S1", "Merhaba", 1000),
				inMsg("905551112233", "wamid.S2", "Fiyat nedir?", 2000),
				inMsg("905551112233", "wamid.S3", "merhaba tekrar", 3000),
			},
		},
	}
	feed := &fakeFeed{}
	s := NewSession(backend, feed.attach, nil)
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Enter(context.Background(), "905551112233"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSearchCaseInsensitiveTimelineOrder(t *testing.T) {
	s := searchSession(t)

	if n := s.Search("merhaba"); n != 2 {
		t.Fatalf("matches = %d, want 2", n)
	}
	first := s.SearchCurrent()
	if first.ExternalID != "wamid.S1" {
		t.Fatalf("first match = %q", first.ExternalID)
	}
	if s.Highlight() != "wamid.S1" {
		t.Errorf("highlight = %q", s.Highlight())
	}

	// "next" from the first lands on the second, then wraps back.
	if got := s.SearchNext(); got.ExternalID != "wamid.S3" {
		t.Fatalf("next = %q", got.ExternalID)
	}
	if got := s.SearchNext(); got.ExternalID != "wamid.S1" {
		t.Fatalf("wrap = %q", got.ExternalID)
	}
	if pos, count := s.SearchStatus(); pos != 1 || count != 2 {
		t.Errorf("status = %d/%d", pos, count)
	}
}

func TestSearchPrevWrapsBackwards(t *testing.T) {
	s := searchSession(t)
	s.Search("merhaba")

	if got := s.SearchPrev(); got.ExternalID != "wamid.S3" {
		t.Fatalf("prev from first = %q, want last match", got.ExternalID)
	}
	if s.Highlight() != "wamid.S3" {
		t.Errorf("highlight = %q", s.Highlight())
	}
}

func TestSearchNoMatches(t *testing.T) {
	s := searchSession(t)
	if n := s.Search("kargo"); n != 0 {
		t.Fatalf("matches = %d", n)
	}
	if s.SearchNext() != nil || s.SearchCurrent() != nil {
		t.Error("navigation on empty result set")
	}
	if s.Highlight() != "" {
		t.Error("highlight set with no matches")
	}
}

func TestClearSearchDropsHighlight(t *testing.T) {
	s := searchSession(t)
	s.Search("merhaba")
	s.ClearSearch()
	if _, count := s.SearchStatus(); count != 0 {
		t.Errorf("count = %d", count)
	}
	if s.Highlight() != "" {
		t.Error("highlight not cleared")
	}
}

func TestResolveReply(t *testing.T) {
	s := searchSession(t)

	reply := inMsg("905551112233", "wamid.R1", "evet", 4000)
	reply.ReplyToExternalID = "wamid.S1"
	if ref := s.ResolveReply(reply); ref == nil || ref.Placeholder || ref.Message.Body != "Merhaba" {
		t.Fatalf("resolved ref = %+v", ref)
	}

	// Reference to a message outside the loaded timeline renders a
	// placeholder, never an error.
	reply.ReplyToExternalID = "wamid.ANCIENT"
	ref := s.ResolveReply(reply)
	if ref == nil || !ref.Placeholder || ref.ExternalID != "wamid.ANCIENT" {
		t.Fatalf("placeholder ref = %+v", ref)
	}

	plain := inMsg("905551112233", "wamid.P1", "selam", 5000)
	if s.ResolveReply(plain) != nil {
		t.Error("non-reply resolved to a ref")
	}
}
