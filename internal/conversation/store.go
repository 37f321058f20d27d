// Package conversation keeps per-conversation message sequences and folds
// server echoes of optimistic sends back onto the local entry.
package conversation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/session"
)

const tempIDPrefix = "tmp-"

// Remote is a message observed from the server, by push or poll, before the
// sender has been resolved relative to the viewer.
type Remote struct {
	ID            models.ID
	CorrelationID string
	Text          string
	SenderID      models.ID
	Timestamp     time.Time
}

// Outcome says what AppendRemote did with a message.
type Outcome int

const (
	Appended Outcome = iota
	// DroppedEcho: the message is the echo of an optimistic local entry.
	DroppedEcho
	// DroppedDuplicate: a message with the same id is already present.
	DroppedDuplicate
)

type thread struct {
	conv    models.Conversation
	ids     map[models.ID]int // message id or echo alias -> index
	corrIDs map[string]int
}

type Store struct {
	mu      sync.RWMutex
	self    session.Identity
	threads map[models.ID]*thread
	active  models.ID
	newID   func() string
}

func New(self session.Identity) *Store {
	return &Store{
		self:    self,
		threads: make(map[models.ID]*thread),
		newID:   uuid.NewString,
	}
}

// ResolveSender classifies a sender identity relative to the viewer.
func (s *Store) ResolveSender(senderID models.ID) models.Sender {
	if s.self.IsSelf(senderID) {
		return models.SenderSelf
	}
	return models.SenderOther
}

func (s *Store) threadLocked(id models.ID) *thread {
	t, ok := s.threads[id]
	if !ok {
		t = &thread{
			conv:    models.Conversation{ID: id},
			ids:     make(map[models.ID]int),
			corrIDs: make(map[string]int),
		}
		s.threads[id] = t
	}
	return t
}

// AppendLocal inserts an optimistic message immediately. A temporary id and a
// correlation id are assigned when missing; the correlation id should travel
// with the send so the server can echo it back.
func (s *Store) AppendLocal(convID models.ID, msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID.Empty() {
		msg.ID = models.ID(tempIDPrefix + s.newID())
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = s.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Sender = models.SenderSelf
	msg.Local = true
	t := s.threadLocked(convID)
	t.push(msg)
	return msg
}

// AppendRemote adds a server-observed message unless an equivalent entry
// already exists. Equivalence is checked in order: echoed correlation id,
// identical id (including ids of previously dropped echoes), then identical
// text from self when the newest entry is a local message with that text.
func (s *Store) AppendRemote(convID models.ID, in Remote) (models.Message, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threadLocked(convID)
	sender := s.ResolveSender(in.SenderID)

	if in.CorrelationID != "" {
		if i, ok := t.corrIDs[in.CorrelationID]; ok {
			t.alias(in.ID, i)
			return t.conv.Messages[i], DroppedEcho
		}
	}
	if !in.ID.Empty() {
		if i, ok := t.ids[in.ID]; ok {
			return t.conv.Messages[i], DroppedDuplicate
		}
	}
	if sender == models.SenderSelf && len(t.conv.Messages) > 0 {
		last := len(t.conv.Messages) - 1
		if m := t.conv.Messages[last]; m.Local && m.Text == in.Text {
			t.alias(in.ID, last)
			return m, DroppedEcho
		}
	}

	msg := models.Message{
		ID:            in.ID,
		CorrelationID: in.CorrelationID,
		Text:          in.Text,
		Sender:        sender,
		Timestamp:     in.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	t.push(msg)
	if sender == models.SenderOther && !models.SameID(s.active, convID) {
		t.conv.UnreadCount++
	}
	return msg, Appended
}

func (t *thread) push(m models.Message) {
	idx := len(t.conv.Messages)
	t.conv.Messages = append(t.conv.Messages, m)
	if !m.ID.Empty() {
		t.ids[m.ID] = idx
	}
	if m.CorrelationID != "" {
		t.corrIDs[m.CorrelationID] = idx
	}
	t.conv.LastMessage = m.Text
	if m.Timestamp.After(t.conv.LastActivity) {
		t.conv.LastActivity = m.Timestamp
	}
}

func (t *thread) alias(id models.ID, idx int) {
	if id.Empty() {
		return
	}
	if _, ok := t.ids[id]; !ok {
		t.ids[id] = idx
	}
}

// MergeSummary applies list-level fields fetched by poll. Message history is
// never replaced from a summary. While the conversation is open its unread
// count stays at zero.
func (s *Store) MergeSummary(c models.Conversation) {
	if c.ID.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threadLocked(c.ID)
	if c.Counterpart != "" {
		t.conv.Counterpart = c.Counterpart
	}
	if c.LastActivity.After(t.conv.LastActivity) {
		t.conv.LastActivity = c.LastActivity
		if c.LastMessage != "" {
			t.conv.LastMessage = c.LastMessage
		}
	} else if t.conv.LastMessage == "" {
		t.conv.LastMessage = c.LastMessage
	}
	if !models.SameID(s.active, c.ID) {
		t.conv.UnreadCount = c.UnreadCount
	}
}

// SetActive marks convID as the open conversation and clears its unread
// count. It returns the previously active conversation.
func (s *Store) SetActive(convID models.ID) models.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = convID
	if !convID.Empty() {
		s.threadLocked(convID).conv.UnreadCount = 0
	}
	return prev
}

func (s *Store) Active() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) MarkRead(convID models.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[convID]; ok {
		t.conv.UnreadCount = 0
	}
}

// Get returns a copy of one conversation.
func (s *Store) Get(convID models.ID) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[convID]
	if !ok {
		return models.Conversation{}, false
	}
	return copyConv(t.conv), true
}

// List returns all conversations, most recent activity first.
func (s *Store) List() []models.Conversation {
	s.mu.RLock()
	out := make([]models.Conversation, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyConv(t.conv))
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return strings.Compare(string(out[i].ID), string(out[j].ID)) < 0
	})
	return out
}

func copyConv(c models.Conversation) models.Conversation {
	c.Messages = append([]models.Message(nil), c.Messages...)
	return c
}
