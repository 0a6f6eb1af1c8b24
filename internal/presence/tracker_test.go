package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_PeersSeeEachOther(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	bob := NewTracker(bus, "ws-1", "ub", time.Hour, time.Hour)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))
	defer alice.Leave(ctx)
	defer bob.Leave(ctx)

	assert.Equal(t, StateTracked, alice.State())

	// alice learns about bob from his join frame; bob learns about alice
	// from her next heartbeat, but alice's join predates his subscription,
	// so only the alice side is guaranteed here
	require.Eventually(t, func() bool {
		return alice.IsOnline("ub")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ua", "ub"}, alice.OnlineUserIDs())
}

func TestTracker_SameUserTwoSessionsCollapse(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	observer := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	tab1 := NewTracker(bus, "ws-1", "ub", time.Hour, time.Hour)
	tab2 := NewTracker(bus, "ws-1", "ub", time.Hour, time.Hour)

	require.NoError(t, observer.Join(ctx))
	require.NoError(t, tab1.Join(ctx))
	require.NoError(t, tab2.Join(ctx))
	defer observer.Leave(ctx)
	defer tab1.Leave(ctx)
	defer tab2.Leave(ctx)

	require.Eventually(t, func() bool {
		return observer.IsOnline("ub")
	}, time.Second, 5*time.Millisecond)

	// two tabs, one roster entry
	assert.Equal(t, []string{"ua", "ub"}, observer.OnlineUserIDs())

	// closing one tab keeps the user online through the other
	require.NoError(t, tab1.Leave(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, observer.IsOnline("ub"))
}

func TestTracker_LeaveRemovesPeer(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	bob := NewTracker(bus, "ws-1", "ub", time.Hour, time.Hour)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, bob.Join(ctx))
	defer alice.Leave(ctx)

	require.Eventually(t, func() bool { return alice.IsOnline("ub") }, time.Second, 5*time.Millisecond)

	require.NoError(t, bob.Leave(ctx))
	require.Eventually(t, func() bool { return !alice.IsOnline("ub") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateLeft, bob.State())

	// a second leave is a no-op
	require.NoError(t, bob.Leave(ctx))
}

func TestTracker_WorkspacesAreIsolated(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	alice := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	stranger := NewTracker(bus, "ws-2", "ux", time.Hour, time.Hour)

	require.NoError(t, alice.Join(ctx))
	require.NoError(t, stranger.Join(ctx))
	defer alice.Leave(ctx)
	defer stranger.Leave(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, alice.IsOnline("ux"))
	assert.Equal(t, []string{"ua"}, alice.OnlineUserIDs())
}

func TestTracker_JoinTwiceFails(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	tr := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	require.NoError(t, tr.Join(ctx))
	defer tr.Leave(ctx)

	assert.Error(t, tr.Join(ctx))
}

func TestTracker_SweepExpiresSilentPeers(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	tr := NewTracker(bus, "ws-1", "ua", 10*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, tr.Join(ctx))
	defer tr.Leave(ctx)

	// a peer that announced once and then went silent
	tr.apply(Announce{Kind: KindTrack, SessionID: "ghost-session", UserID: "ughost", SentAt: time.Now()})
	require.True(t, tr.IsOnline("ughost"))

	require.Eventually(t, func() bool {
		return !tr.IsOnline("ughost")
	}, time.Second, 5*time.Millisecond, "silent peers expire after missing heartbeats")

	// our own session never expires
	assert.True(t, tr.IsOnline("ua"))
}

func TestTracker_OnSyncReceivesFullSet(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var mu sync.Mutex
	var last []string
	tr := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	tr.OnSync(func(online []string) {
		mu.Lock()
		last = online
		mu.Unlock()
	})
	require.NoError(t, tr.Join(ctx))
	defer tr.Leave(ctx)

	tr.apply(Announce{Kind: KindTrack, SessionID: "s-2", UserID: "ub", SentAt: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ua", "ub"}, last, "callback carries the rebuilt set, not a delta")
}

func TestTracker_MalformedFramesIgnored(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	tr := NewTracker(bus, "ws-1", "ua", time.Hour, time.Hour)
	require.NoError(t, tr.Join(ctx))
	defer tr.Leave(ctx)

	tr.apply(Announce{Kind: KindTrack, SessionID: "", UserID: "ub"})
	tr.apply(Announce{Kind: KindTrack, SessionID: "s-1", UserID: ""})
	tr.apply(Announce{Kind: "nonsense", SessionID: "s-1", UserID: "ub"})

	assert.Equal(t, []string{"ua"}, tr.OnlineUserIDs())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "tracked", StateTracked.String())
	assert.Equal(t, "left", StateLeft.String())
	assert.Equal(t, "unknown", State(99).String())
}
