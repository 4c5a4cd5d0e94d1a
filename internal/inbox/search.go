package inbox

import (
	"strings"

	"github.com/ozmetal/inbox/internal/store"
)

type searchState struct {
	query   string
	matches []string // merge keys in timeline order
	cursor  int
}

// ReplyRef is a resolved reply reference. When the referenced message is
// outside the loaded timeline, Placeholder is true and only the external
// id is known.
type ReplyRef struct {
	Message     *store.Message
	ExternalID  string
	Placeholder bool
}

// ResolveReply resolves a message's reply reference within the loaded
// timeline. Messages without a reference resolve to nil; a reference to a
// message not yet loaded yields a placeholder instead of an error.
func (s *Session) ResolveReply(m *store.Message) *ReplyRef {
	if m.ReplyToExternalID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byKey[m.ReplyToExternalID]; ok {
		return &ReplyRef{Message: s.msgs[idx], ExternalID: m.ReplyToExternalID}
	}
	return &ReplyRef{ExternalID: m.ReplyToExternalID, Placeholder: true}
}

// Search runs a case-insensitive substring match over the loaded timeline
// and positions the cursor on the first hit. It returns the number of
// matches. An empty query clears the previous search.
func (s *Session) Search(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = searchState{query: query}
	s.highlight = ""
	if query == "" {
		return 0
	}
	needle := strings.ToLower(query)
	for _, m := range s.msgs {
		if strings.Contains(strings.ToLower(m.Body), needle) {
			s.search.matches = append(s.search.matches, m.Key())
		}
	}
	if len(s.search.matches) > 0 {
		s.highlight = s.search.matches[0]
	}
	return len(s.search.matches)
}

// SearchNext advances the cursor, wrapping past the last match to the
// first, and returns the selected message.
func (s *Session) SearchNext() *store.Message {
	return s.searchStep(1)
}

// SearchPrev moves the cursor backwards, wrapping around to the last match.
func (s *Session) SearchPrev() *store.Message {
	return s.searchStep(-1)
}

func (s *Session) searchStep(dir int) *store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.search.matches)
	if n == 0 {
		return nil
	}
	s.search.cursor = ((s.search.cursor+dir)%n + n) % n
	key := s.search.matches[s.search.cursor]
	s.highlight = key
	if idx, ok := s.byKey[key]; ok {
		return s.msgs[idx]
	}
	return nil
}

// SearchCurrent returns the message under the cursor without moving it.
func (s *Session) SearchCurrent() *store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.search.matches) == 0 {
		return nil
	}
	if idx, ok := s.byKey[s.search.matches[s.search.cursor]]; ok {
		return s.msgs[idx]
	}
	return nil
}

// SearchStatus reports the 1-based cursor position and match count for the
// search bar. Count is zero when no search is active.
func (s *Session) SearchStatus() (pos, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.search.matches) == 0 {
		return 0, 0
	}
	return s.search.cursor + 1, len(s.search.matches)
}

// Highlight returns the merge key of the transiently highlighted message,
// or "".
func (s *Session) Highlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlight
}

// ClearHighlight removes the transient highlight, typically after the
// UI's highlight timer fires.
func (s *Session) ClearHighlight() {
	s.mu.Lock()
	s.highlight = ""
	s.mu.Unlock()
	s.notify()
}

// ClearSearch drops the search state and highlight.
func (s *Session) ClearSearch() {
	s.mu.Lock()
	s.search = searchState{}
	s.highlight = ""
	s.mu.Unlock()
	s.notify()
}
