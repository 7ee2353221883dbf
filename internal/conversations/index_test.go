package conversations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func incoming(id, from string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: from, ReceiverID: "U1", Body: "body " + id, CreatedAt: at, Status: models.StatusConfirmed}
}

func TestIncomingWhileClosedCountsUnreadThenOpenResets(t *testing.T) {
	ix := NewIndex("U1")

	ix.Observe(incoming("m1", "U3", t0), "U3", false)
	s, ok := ix.Summary("U3")
	require.True(t, ok)
	assert.Equal(t, 1, s.UnreadCount)
	require.NotNil(t, s.LastMessage)
	assert.Equal(t, "body m1", s.LastMessage.Body)

	ix.Observe(incoming("m2", "U3", t0.Add(time.Second)), "U3", false)
	ix.Observe(incoming("m3", "U3", t0.Add(2*time.Second)), "U3", false)
	s, _ = ix.Summary("U3")
	assert.Equal(t, 3, s.UnreadCount)

	ix.MarkOpened("U3", t0.Add(3*time.Second))
	s, _ = ix.Summary("U3")
	assert.Equal(t, 0, s.UnreadCount)
	assert.Equal(t, "m3", s.LastMessage.ID)
}

func TestRedeliveryDoesNotDoubleCount(t *testing.T) {
	ix := NewIndex("U1")
	m := incoming("m1", "U2", t0)
	ix.Observe(m, "U2", false)
	ix.Observe(m, "U2", false)
	s, _ := ix.Summary("U2")
	assert.Equal(t, 1, s.UnreadCount)
}

func TestOpenThreadDoesNotCountUnread(t *testing.T) {
	ix := NewIndex("U1")
	ix.MarkOpened("U2", t0)
	ix.Observe(incoming("m1", "U2", t0.Add(time.Second)), "U2", true)
	s, _ := ix.Summary("U2")
	assert.Equal(t, 0, s.UnreadCount)
	assert.Equal(t, "m1", s.LastMessage.ID)

	// seen while open, replayed after close
	ix.Observe(incoming("m1", "U2", t0.Add(time.Second)), "U2", false)
	s, _ = ix.Summary("U2")
	assert.Equal(t, 0, s.UnreadCount)
}

func TestReplayOlderThanLastOpenIsNotUnread(t *testing.T) {
	ix := NewIndex("U1")
	ix.MarkOpened("U2", t0)
	ix.Observe(incoming("old", "U2", t0.Add(-time.Minute)), "U2", false)
	s, _ := ix.Summary("U2")
	assert.Equal(t, 0, s.UnreadCount)
}

func TestOutgoingNeverCountsUnread(t *testing.T) {
	ix := NewIndex("U1")
	out := models.Message{ID: "m1", SenderID: "U1", ReceiverID: "U2", Body: "hi", CreatedAt: t0}
	ix.Observe(out, "U2", false)
	s, _ := ix.Summary("U2")
	assert.Equal(t, 0, s.UnreadCount)
	assert.Equal(t, "hi", s.LastMessage.Body)
}

func TestOlderMessageKeepsLastMessage(t *testing.T) {
	ix := NewIndex("U1")
	ix.Observe(incoming("m2", "U2", t0.Add(time.Minute)), "U2", true)
	ix.Observe(incoming("m1", "U2", t0), "U2", true)
	s, _ := ix.Summary("U2")
	assert.Equal(t, "m2", s.LastMessage.ID)
	assert.Equal(t, t0.Add(time.Minute), s.LastActivityAt)
}

func TestReplaceProvisionalLastMessage(t *testing.T) {
	ix := NewIndex("U1")
	prov := models.Message{ID: "local-1", SenderID: "U1", ReceiverID: "U2", Body: "hi", CreatedAt: t0.Add(time.Second), Status: models.StatusPending}
	ix.Observe(prov, "U2", true)

	stored := models.Message{ID: "msg-9", SenderID: "U1", ReceiverID: "U2", Body: "hi", CreatedAt: t0, Status: models.StatusConfirmed, ClientID: "local-1"}
	assert.True(t, ix.Replace("local-1", stored))
	s, _ := ix.Summary("U2")
	assert.Equal(t, "msg-9", s.LastMessage.ID)
	assert.Equal(t, t0, s.LastActivityAt)
}

func TestObserveWithClientIDReplacesEvenWhenOlder(t *testing.T) {
	ix := NewIndex("U1")
	ix.Observe(models.Message{ID: "local-1", SenderID: "U1", ReceiverID: "U2", CreatedAt: t0.Add(time.Second), Status: models.StatusPending}, "U2", true)
	ix.Observe(models.Message{ID: "msg-9", SenderID: "U1", ReceiverID: "U2", CreatedAt: t0, Status: models.StatusConfirmed, ClientID: "local-1"}, "U2", true)
	s, _ := ix.Summary("U2")
	assert.Equal(t, "msg-9", s.LastMessage.ID)
}

func TestListOrdering(t *testing.T) {
	ix := NewIndex("U1")
	ix.Ensure([]models.User{
		{ID: "U2", DisplayName: "bob"},
		{ID: "U3", DisplayName: "Carol"},
		{ID: "U4", DisplayName: "alice"},
		{ID: "U5", DisplayName: "dave"},
	})
	ix.Observe(incoming("m1", "U3", t0), "U3", false)
	ix.Observe(incoming("m2", "U5", t0.Add(time.Minute)), "U5", false)

	var got []string
	for _, s := range ix.List() {
		got = append(got, s.Peer.ID)
	}
	assert.Equal(t, []string{"U5", "U3", "U4", "U2"}, got)
}

func TestEqualActivityTieBreaksOnLabel(t *testing.T) {
	ix := NewIndex("U1")
	ix.Ensure([]models.User{{ID: "U2", DisplayName: "zed"}, {ID: "U3", DisplayName: "amy"}})
	ix.Observe(incoming("m1", "U2", t0), "U2", false)
	ix.Observe(incoming("m2", "U3", t0), "U3", false)
	list := ix.List()
	require.Len(t, list, 2)
	assert.Equal(t, "U3", list[0].Peer.ID)
}

func TestEnsureKeepsAggregatesAndDropsHidden(t *testing.T) {
	ix := NewIndex("U1")
	ix.Observe(incoming("m1", "U2", t0), "U2", false)
	ix.Observe(incoming("m2", "U3", t0), "U3", false)

	ix.Ensure([]models.User{{ID: "U2", DisplayName: "Bob", Online: true}, {ID: "U1"}})
	assert.Len(t, ix.List(), 1)
	s, ok := ix.Summary("U2")
	require.True(t, ok)
	assert.Equal(t, "Bob", s.Peer.DisplayName)
	assert.True(t, s.Peer.Online)
	assert.Equal(t, 1, s.UnreadCount)
	_, ok = ix.Summary("U3")
	assert.False(t, ok)
}

func TestUnknownPeerGetsPlaceholder(t *testing.T) {
	ix := NewIndex("U1")
	ix.Observe(incoming("m1", "U9", t0), "U9", false)
	s, ok := ix.Summary("U9")
	require.True(t, ok)
	assert.Equal(t, "U9", s.Peer.Label())

	ix.Announce(models.User{ID: "U9", DisplayName: "Nina"})
	s, _ = ix.Summary("U9")
	assert.Equal(t, "Nina", s.Peer.DisplayName)
}

func TestSearchIsPure(t *testing.T) {
	ix := NewIndex("U1")
	ix.Ensure([]models.User{{ID: "U2", DisplayName: "Bob"}, {ID: "U3", DisplayName: "Bobby"}, {ID: "U4", DisplayName: "Carol"}})
	ix.Observe(incoming("m1", "U2", t0), "U2", false)

	res := ix.Search("BOB")
	require.Len(t, res, 2)
	assert.Equal(t, "U2", res[0].Peer.ID)
	assert.Len(t, ix.Search("  "), 3)
	assert.Empty(t, ix.Search("zzz"))

	s, _ := ix.Summary("U2")
	assert.Equal(t, 1, s.UnreadCount)
	assert.Len(t, ix.List(), 3)
}

func TestRebuild(t *testing.T) {
	ix := NewIndex("U1")
	msgs := []models.Message{
		incoming("m1", "U2", t0),
		{ID: "m2", SenderID: "U1", ReceiverID: "U2", CreatedAt: t0.Add(time.Second)},
		incoming("m3", "U2", t0.Add(2*time.Second)),
		incoming("m4", "U2", t0.Add(3*time.Second)),
	}
	ix.Rebuild("U2", msgs, t0.Add(time.Second))
	s, _ := ix.Summary("U2")
	assert.Equal(t, 2, s.UnreadCount)
	assert.Equal(t, "m4", s.LastMessage.ID)

	// zero open time counts everything from the peer
	ix.Rebuild("U2", msgs, time.Time{})
	s, _ = ix.Summary("U2")
	assert.Equal(t, 3, s.UnreadCount)
}

func TestRebuildKeepsNewerProvisional(t *testing.T) {
	ix := NewIndex("U1")
	prov := models.Message{ID: "local-1", SenderID: "U1", ReceiverID: "U2", CreatedAt: t0.Add(time.Hour), Status: models.StatusPending}
	ix.Observe(prov, "U2", true)
	ix.Rebuild("U2", []models.Message{incoming("m1", "U2", t0)}, t0.Add(time.Hour))
	s, _ := ix.Summary("U2")
	assert.Equal(t, "local-1", s.LastMessage.ID)
}

func TestListReturnsCopies(t *testing.T) {
	ix := NewIndex("U1")
	ix.Observe(incoming("m1", "U2", t0), "U2", false)
	list := ix.List()
	list[0].LastMessage.Body = "changed"
	s, _ := ix.Summary("U2")
	assert.Equal(t, "body m1", s.LastMessage.Body)
}
