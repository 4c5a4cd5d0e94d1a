// Package inbox maintains the operator's live view state: the ordered
// conversation list, the active conversation's message timeline, scroll
// and unread accounting, reply resolution and in-conversation search.
// All updates arrive as merge-by-id upserts; views are never replaced
// wholesale.
package inbox

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ozmetal/inbox/internal/store"
)

// nearBottomThreshold is how many rows above the bottom the viewport may
// sit and still be auto-scrolled when a new message arrives.
const nearBottomThreshold = 3

// Backend loads view state and acknowledges reads. The terminal client
// implements it over the daemon socket.
type Backend interface {
	Conversations(ctx context.Context) ([]*store.Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Feed attaches a live message feed for one conversation. deliver is called
// for every upsert until cancel runs.
type Feed func(conversationID string, deliver func(*store.Message)) (cancel func(), err error)

// Session is one operator's view state. All methods are safe for
// concurrent use; the feed goroutine and the UI thread share it.
type Session struct {
	backend Backend
	feed    Feed
	notify  func()

	mu    sync.Mutex
	convs []*store.Conversation
	byID  map[string]*store.Conversation

	active   string
	gen      int
	cancel   func()
	msgs     []*store.Message
	byKey    map[string]int
	rowIDs   map[int64]string // store row id -> merge key, for key upgrades
	loadSeen bool

	fromBottom int
	pendingNew int

	replyTarget string
	search      searchState
	highlight   string
}

// NewSession creates a session. notify, when non-nil, is invoked after
// every state change (without the session lock held) so the UI can redraw.
func NewSession(backend Backend, feed Feed, notify func()) *Session {
	if notify == nil {
		notify = func() {}
	}
	return &Session{
		backend: backend,
		feed:    feed,
		notify:  notify,
		byID:    make(map[string]*store.Conversation),
	}
}

// LoadConversations fetches the conversation list and replaces the local
// index, preserving pointer identity only through the merge rule.
func (s *Session) LoadConversations(ctx context.Context) error {
	convs, err := s.backend.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	s.mu.Lock()
	for _, c := range convs {
		s.mergeConversationLocked(c)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// ApplyConversation merges one conversation upsert into the list. A record
// whose id is already present overwrites in place; the list is then
// reordered by last activity.
func (s *Session) ApplyConversation(c *store.Conversation) {
	s.mu.Lock()
	s.mergeConversationLocked(c)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) mergeConversationLocked(c *store.Conversation) {
	if existing, ok := s.byID[c.ID]; ok {
		*existing = *c
	} else {
		cp := *c
		s.byID[c.ID] = &cp
		s.convs = append(s.convs, &cp)
	}
	sort.SliceStable(s.convs, func(i, j int) bool {
		return s.convs[i].LastMessageAt > s.convs[j].LastMessageAt
	})
}

// Conversations returns the list ordered by last activity, newest first.
func (s *Session) Conversations() []*store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Conversation, len(s.convs))
	for i, c := range s.convs {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Conversation returns the conversation with the given id, or nil.
func (s *Session) Conversation(id string) *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// ActiveID returns the id of the conversation currently entered, or "".
func (s *Session) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Enter makes conversationID the active conversation. The previous feed is
// detached before the new one attaches, and scroll, search, reply draft and
// the new-message counter are all reset in the same step. The conversation
// is marked read.
func (s *Session) Enter(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen
	s.active = conversationID
	s.msgs = nil
	s.byKey = make(map[string]int)
	s.rowIDs = make(map[int64]string)
	s.loadSeen = false
	s.fromBottom = 0
	s.pendingNew = 0
	s.replyTarget = ""
	s.search = searchState{}
	s.highlight = ""
	s.mu.Unlock()

	msgs, err := s.backend.Messages(ctx, conversationID, 200)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// The operator already moved on; drop the stale load.
		s.mu.Unlock()
		return nil
	}
	for _, m := range msgs {
		s.mergeMessageLocked(m)
	}
	s.loadSeen = true
	s.mu.Unlock()

	deliver := func(m *store.Message) { s.applyMessage(gen, m) }
	cancel, err := s.feed(conversationID, deliver)
	if err != nil {
		return fmt.Errorf("attach feed: %w", err)
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.backend.MarkRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	s.mu.Lock()
	if c, ok := s.byID[conversationID]; ok && s.gen == gen {
		c.UnreadCount = 0
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Leave detaches the active conversation's feed and clears its view.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.active = ""
	s.msgs = nil
	s.byKey = nil
	s.rowIDs = nil
	s.mu.Unlock()
	s.notify()
}

// applyMessage merges one feed upsert. gen guards against deliveries from
// a feed that was cancelled during a conversation switch.
func (s *Session) applyMessage(gen int, m *store.Message) {
	s.mu.Lock()
	if gen != s.gen || m.ConversationID != s.active {
		s.mu.Unlock()
		return
	}
	appended := s.mergeMessageLocked(m)
	if appended && m.Direction == store.DirectionInbound && s.loadSeen {
		if s.fromBottom <= nearBottomThreshold {
			s.fromBottom = 0
		} else {
			s.pendingNew++
		}
	}
	s.mu.Unlock()
	s.notify()
}

// mergeMessageLocked applies the merge-by-id rule: a known key overwrites
// in place and keeps its position; a new key is inserted in timestamp
// order, ties after existing entries. Reports whether the message was
// appended at the end of the timeline.
func (s *Session) mergeMessageLocked(m *store.Message) bool {
	key := m.Key()
	if key == "" {
		return false
	}
	if prev, ok := s.rowIDs[m.ID]; m.ID != 0 && ok && prev != key {
		// Ack upgraded the merge key from client id to external id.
		if idx, ok := s.byKey[prev]; ok {
			delete(s.byKey, prev)
			s.byKey[key] = idx
		}
	}
	if m.ID != 0 {
		s.rowIDs[m.ID] = key
	}
	if idx, ok := s.byKey[key]; ok {
		s.msgs[idx] = m
		return false
	}

	pos := len(s.msgs)
	for pos > 0 && s.msgs[pos-1].Timestamp > m.Timestamp {
		pos--
	}
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[pos+1:], s.msgs[pos:])
	s.msgs[pos] = m
	for i := pos; i < len(s.msgs); i++ {
		s.byKey[s.msgs[i].Key()] = i
	}
	return pos == len(s.msgs)-1
}

// Messages returns the active conversation's timeline, oldest first.
func (s *Session) Messages() []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// SetScrollPosition records the viewport's distance from the bottom of the
// timeline, in rows. Zero means pinned to the newest message.
func (s *Session) SetScrollPosition(fromBottom int) {
	s.mu.Lock()
	if fromBottom < 0 {
		fromBottom = 0
	}
	s.fromBottom = fromBottom
	if fromBottom == 0 {
		s.pendingNew = 0
	}
	s.mu.Unlock()
}

// ScrollPosition returns the recorded distance from the bottom.
func (s *Session) ScrollPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromBottom
}

// PendingNew returns how many messages arrived below the viewport while
// the operator was scrolled up reading history.
func (s *Session) PendingNew() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingNew
}

// JumpToLatest pins the viewport to the newest message and clears the
// new-message affordance.
func (s *Session) JumpToLatest() {
	s.mu.Lock()
	s.fromBottom = 0
	s.pendingNew = 0
	s.mu.Unlock()
	s.notify()
}

// SetReplyTarget sets the draft's reply reference to the message with the
// given merge key. An unknown key is rejected.
func (s *Session) SetReplyTarget(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[key]; !ok {
		return fmt.Errorf("unknown message %q", key)
	}
	s.replyTarget = key
	return nil
}

// ReplyTarget returns the message the draft replies to, or nil.
func (s *Session) ReplyTarget() *store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyTarget == "" {
		return nil
	}
	if idx, ok := s.byKey[s.replyTarget]; ok {
		return s.msgs[idx]
	}
	return nil
}

// ClearReplyTarget drops the draft's reply reference.
func (s *Session) ClearReplyTarget() {
	s.mu.Lock()
	s.replyTarget = ""
	s.mu.Unlock()
}
