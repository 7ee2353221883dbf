// Package thread keeps one ordered, deduplicated message sequence per peer.
//
// Entries are ordered by (CreatedAt, ID) and unique by ID. Every write goes
// through Append, which is idempotent: redelivered feed events, a load racing
// the feed and the storage echo of an optimistic send all collapse into one
// entry. Store is not safe for concurrent use; the engine owns it from a
// single goroutine.
package thread

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
)

// MessageFetcher reads the stored history of one conversation.
type MessageFetcher interface {
	ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error)
}

// AppendResult describes what Append did with a message.
type AppendResult int

const (
	Inserted AppendResult = iota + 1
	Duplicate
	Replaced
)

func (r AppendResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Thread is an ordered message history for one peer.
type Thread []models.Message

// Last returns the newest message, if any.
func (t Thread) Last() (models.Message, bool) {
	if len(t) == 0 {
		return models.Message{}, false
	}
	return t[len(t)-1], true
}

// Store holds the materialized threads of the local user.
type Store struct {
	localID string
	fetcher MessageFetcher
	matcher Matcher
	threads map[string][]models.Message
}

// Option configures a Store.
type Option func(*Store)

// WithMatcher replaces the default IdentityMatcher.
func WithMatcher(m Matcher) Option {
	return func(s *Store) { s.matcher = m }
}

// NewStore constructs a Store for localID.
func NewStore(localID string, fetcher MessageFetcher, opts ...Option) *Store {
	s := &Store{
		localID: localID,
		fetcher: fetcher,
		matcher: NewIdentityMatcher(DefaultTolerance),
		threads: make(map[string][]models.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch reads the stored history for peerID without touching store state.
func (s *Store) Fetch(ctx context.Context, peerID string) ([]models.Message, error) {
	msgs, err := s.fetcher.ListConversation(ctx, s.localID, peerID)
	if err != nil {
		return nil, apperrors.Fetch("load thread "+peerID, err)
	}
	return msgs, nil
}

// Merge materializes peerID's thread and appends msgs into it. Fetch then
// Merge is a full load; an empty history still materializes the thread.
func (s *Store) Merge(peerID string, msgs []models.Message) Thread {
	if _, ok := s.threads[peerID]; !ok {
		s.threads[peerID] = make([]models.Message, 0, len(msgs))
	}
	for _, m := range msgs {
		s.Append(peerID, m)
	}
	return s.snapshot(peerID)
}

// Append inserts msg into peerID's thread keeping order and uniqueness.
// A confirmed copy of an unconfirmed local entry replaces it in place.
func (s *Store) Append(peerID string, msg models.Message) AppendResult {
	if msg.Status == "" {
		msg.Status = models.StatusConfirmed
	}
	entries := s.threads[peerID]

	// The stored copy names its local entry, but an echo that missed the
	// heuristic may already hold msg.ID. Fold the local entry into the echo.
	if msg.ClientID != "" && !msg.Provisional() {
		local, confirmed := indexOf(entries, msg.ClientID), indexOf(entries, msg.ID)
		if local >= 0 && confirmed >= 0 && entries[local].Provisional() {
			entries[confirmed].ClientID = msg.ClientID
			s.threads[peerID] = append(entries[:local], entries[local+1:]...)
			return Replaced
		}
	}

	if idx := s.matcher.Match(entries, msg); idx >= 0 {
		existing := entries[idx]
		if !existing.Provisional() || msg.Provisional() {
			return Duplicate
		}
		msg.Status = models.StatusConfirmed
		msg.ClientID = existing.ID
		entries[idx] = msg
		if !ordered(entries, idx) {
			entries = append(entries[:idx], entries[idx+1:]...)
			entries = insertSorted(entries, msg)
		}
		s.threads[peerID] = entries
		return Replaced
	}

	s.threads[peerID] = insertSorted(entries, msg)
	return Inserted
}

// MarkFailed flags a pending local entry whose persistence failed.
func (s *Store) MarkFailed(peerID, id string) bool {
	entries := s.threads[peerID]
	for i := range entries {
		if entries[i].ID == id && entries[i].Status == models.StatusPending {
			entries[i].Status = models.StatusFailed
			return true
		}
	}
	return false
}

// Retry moves a failed entry back to pending and returns it for resending.
func (s *Store) Retry(peerID, id string) (models.Message, bool) {
	entries := s.threads[peerID]
	for i := range entries {
		if entries[i].ID == id && entries[i].Status == models.StatusFailed {
			entries[i].Status = models.StatusPending
			return entries[i], true
		}
	}
	return models.Message{}, false
}

// Thread returns a copy of peerID's thread.
func (s *Store) Thread(peerID string) (Thread, bool) {
	if _, ok := s.threads[peerID]; !ok {
		return nil, false
	}
	return s.snapshot(peerID), true
}

// Get returns the entry with id in peerID's thread.
func (s *Store) Get(peerID, id string) (models.Message, bool) {
	for _, m := range s.threads[peerID] {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Materialized reports whether peerID's thread is held in memory.
func (s *Store) Materialized(peerID string) bool {
	_, ok := s.threads[peerID]
	return ok
}

// Evict drops peerID's thread. It is re-fetched on the next load.
func (s *Store) Evict(peerID string) {
	delete(s.threads, peerID)
}

// Peers lists the materialized conversation keys.
func (s *Store) Peers() []string {
	peers := make([]string, 0, len(s.threads))
	for p := range s.threads {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

func (s *Store) snapshot(peerID string) Thread {
	entries := s.threads[peerID]
	out := make(Thread, len(entries))
	copy(out, entries)
	return out
}

// NewProvisional builds an optimistic message from localID to peerID.
// Whitespace-only bodies are rejected.
func NewProvisional(localID, peerID, body string, now time.Time) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, &apperrors.ValidationError{Field: "body", Reason: "message is empty"}
	}
	if peerID == "" {
		return models.Message{}, &apperrors.ValidationError{Field: "peer", Reason: "no conversation selected"}
	}
	return models.Message{
		ID:         models.ProvisionalPrefix + uuid.NewString(),
		SenderID:   localID,
		ReceiverID: peerID,
		Body:       body,
		CreatedAt:  now,
		Status:     models.StatusPending,
	}, nil
}

func indexOf(entries []models.Message, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func insertSorted(entries []models.Message, msg models.Message) []models.Message {
	i := sort.Search(len(entries), func(i int) bool { return msg.Before(entries[i]) })
	entries = append(entries, models.Message{})
	copy(entries[i+1:], entries[i:])
	entries[i] = msg
	return entries
}

func ordered(entries []models.Message, idx int) bool {
	if idx > 0 && !entries[idx-1].Before(entries[idx]) {
		return false
	}
	if idx < len(entries)-1 && !entries[idx].Before(entries[idx+1]) {
		return false
	}
	return true
}
