package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"conectazap/internal/domain"
)

func snapshot(ids ...string) []domain.Conversation {
	out := make([]domain.Conversation, len(ids))
	for i, id := range ids {
		out[i] = domain.Conversation{ID: id}
	}
	return out
}

func TestHub_BroadcastReachesAllAgentSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("agent-1")
	b := h.Subscribe("agent-1")
	require.Equal(t, 2, h.Subscribers("agent-1"))

	h.Broadcast("agent-1", snapshot("c-1"))

	gotA := <-a.C
	gotB := <-b.C
	require.Equal(t, "c-1", gotA[0].ID)
	require.Equal(t, "c-1", gotB[0].ID)
}

func TestHub_SnapshotsScopedToOwningAgent(t *testing.T) {
	h := NewHub()
	mine := h.Subscribe("agent-1")
	other := h.Subscribe("agent-2")

	h.Broadcast("agent-1", snapshot("c-private"))

	got := <-mine.C
	require.Equal(t, "c-private", got[0].ID)
	select {
	case leaked := <-other.C:
		t.Fatalf("agent-2 received agent-1's snapshot: %v", leaked)
	default:
	}
}

func TestHub_CancelRemovesSubscriberAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("agent-1")
	sub.Cancel()
	sub.Cancel() // idempotent

	require.Zero(t, h.Subscribers("agent-1"))
	_, open := <-sub.C
	require.False(t, open)
}

func TestHub_SlowSubscriberGetsLatestSnapshot(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("agent-1")

	// Overflow the buffer without ever draining; delivery must not block
	// and the newest snapshot must still arrive.
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Broadcast("agent-1", snapshot("stale"))
	}
	h.Broadcast("agent-1", snapshot("latest"))

	var last []domain.Conversation
	for {
		select {
		case s := <-sub.C:
			last = s
			continue
		default:
		}
		break
	}
	require.Equal(t, "latest", last[0].ID)
}

func TestHub_BroadcastWithNoSubscribers(t *testing.T) {
	h := NewHub()
	h.Broadcast("agent-1", snapshot("c-1")) // must not panic or block
	require.Zero(t, h.Subscribers("agent-1"))
}
