// Package conversations derives the per-peer conversation list: last
// message, last activity, unread count. The index never reads storage; it is
// fed by the engine from loads, the live feed and local sends.
package conversations

import (
	"sort"
	"strings"
	"time"

	"chat-sync/internal/models"
)

type entry struct {
	summary models.ConversationSummary
	// ids of peer messages already seen since the last open
	seen map[string]struct{}
}

// Index holds one summary per visible peer. It is not safe for concurrent use.
type Index struct {
	localID string
	entries map[string]*entry
}

func NewIndex(localID string) *Index {
	return &Index{localID: localID, entries: make(map[string]*entry)}
}

func (ix *Index) get(peerID string) *entry {
	e, ok := ix.entries[peerID]
	if !ok {
		e = &entry{
			summary: models.ConversationSummary{Peer: models.User{ID: peerID}},
			seen:    make(map[string]struct{}),
		}
		ix.entries[peerID] = e
	}
	return e
}

// Ensure makes the index cover exactly peers. Existing entries keep their
// aggregates and pick up the new profile.
func (ix *Index) Ensure(peers []models.User) {
	visible := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p.ID == "" || p.ID == ix.localID {
			continue
		}
		visible[p.ID] = struct{}{}
		ix.get(p.ID).summary.Peer = p
	}
	for id := range ix.entries {
		if _, ok := visible[id]; !ok {
			delete(ix.entries, id)
		}
	}
}

// Announce updates the profile of a known peer.
func (ix *Index) Announce(p models.User) {
	if e, ok := ix.entries[p.ID]; ok {
		e.summary.Peer = p
	}
}

// Observe folds msg into the peer's summary. open reports whether the
// conversation is currently on screen. Returns true if the summary changed.
func (ix *Index) Observe(msg models.Message, peerID string, open bool) bool {
	e := ix.get(peerID)
	changed := false

	last := e.summary.LastMessage
	switch {
	case last == nil,
		last.ID == msg.ID,
		msg.ClientID != "" && last.ID == msg.ClientID,
		last.Before(msg):
		if last == nil || last.ID != msg.ID || last.Status != msg.Status {
			m := msg
			e.summary.LastMessage = &m
			e.summary.LastActivityAt = msg.CreatedAt
			changed = true
		}
	}

	if msg.SenderID != peerID || msg.Provisional() {
		return changed
	}
	if _, dup := e.seen[msg.ID]; dup {
		return changed
	}
	if !e.summary.LastOpenedAt.IsZero() && !msg.CreatedAt.After(e.summary.LastOpenedAt) {
		return changed
	}
	e.seen[msg.ID] = struct{}{}
	if !open {
		e.summary.UnreadCount++
		changed = true
	}
	return changed
}

// Replace promotes a provisional last message to its stored copy.
func (ix *Index) Replace(oldID string, msg models.Message) bool {
	peerID := models.PeerOf(ix.localID, msg)
	e, ok := ix.entries[peerID]
	if !ok {
		return ix.Observe(msg, peerID, true)
	}
	if last := e.summary.LastMessage; last != nil && last.ID == oldID {
		m := msg
		e.summary.LastMessage = &m
		e.summary.LastActivityAt = msg.CreatedAt
		return true
	}
	return ix.Observe(msg, peerID, true)
}

// MarkOpened resets the unread count and records when the peer was opened.
func (ix *Index) MarkOpened(peerID string, at time.Time) {
	e := ix.get(peerID)
	e.summary.UnreadCount = 0
	e.summary.LastOpenedAt = at
	e.seen = make(map[string]struct{})
}

// Rebuild recomputes the peer's summary from msgs. Unread counts peer
// messages after openedAt. A newer provisional last message survives.
func (ix *Index) Rebuild(peerID string, msgs []models.Message, openedAt time.Time) {
	e := ix.get(peerID)
	pending := e.summary.LastMessage
	e.summary.LastMessage = nil
	e.summary.LastActivityAt = time.Time{}
	e.summary.UnreadCount = 0
	e.summary.LastOpenedAt = openedAt
	e.seen = make(map[string]struct{})
	for _, m := range msgs {
		ix.Observe(m, peerID, false)
	}
	if pending != nil && pending.Provisional() {
		if last := e.summary.LastMessage; last == nil || last.Before(*pending) {
			e.summary.LastMessage = pending
			e.summary.LastActivityAt = pending.CreatedAt
		}
	}
}

// Summary returns a copy of one peer's summary.
func (ix *Index) Summary(peerID string) (models.ConversationSummary, bool) {
	e, ok := ix.entries[peerID]
	if !ok {
		return models.ConversationSummary{}, false
	}
	return copySummary(e.summary), true
}

// List returns all summaries, most recent activity first. Peers without
// messages sort last; ties break on label, then id.
func (ix *Index) List() []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, copySummary(e.summary))
	}
	sortSummaries(out)
	return out
}

// Search filters List by a case-insensitive substring of the peer label.
func (ix *Index) Search(query string) []models.ConversationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	all := ix.List()
	if q == "" {
		return all
	}
	out := all[:0]
	for _, s := range all {
		if strings.Contains(strings.ToLower(s.Peer.Label()), q) {
			out = append(out, s)
		}
	}
	return out
}

func copySummary(s models.ConversationSummary) models.ConversationSummary {
	if s.LastMessage != nil {
		m := *s.LastMessage
		s.LastMessage = &m
	}
	return s
}

func sortSummaries(out []models.ConversationSummary) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.LastMessage == nil) != (b.LastMessage == nil) {
			return a.LastMessage != nil
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		la, lb := strings.ToLower(a.Peer.Label()), strings.ToLower(b.Peer.Label())
		if la != lb {
			return la < lb
		}
		return a.Peer.ID < b.Peer.ID
	})
}
