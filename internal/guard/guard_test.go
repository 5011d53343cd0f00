package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketfi/fund-backend/internal/domain"
)

func TestAccountGuards_SameAccountRejected(t *testing.T) {
	guards := NewAccountGuards()

	release, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)

	_, err = guards.Acquire("alice", "mint")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConcurrency))
	assert.Contains(t, err.Error(), "already in progress")

	release()

	// Released guard can be re-acquired.
	release2, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)
	release2()
}

func TestAccountGuards_DifferentAccountsNeverBlock(t *testing.T) {
	guards := NewAccountGuards()

	r1, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)
	r2, err := guards.Acquire("bob", "mint")
	require.NoError(t, err)

	assert.True(t, guards.Held("alice", "mint"))
	assert.True(t, guards.Held("bob", "mint"))

	r1()
	r2()
}

func TestAccountGuards_NamesAreIndependent(t *testing.T) {
	guards := NewAccountGuards()

	r1, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)
	defer r1()

	// Same account, different operation name.
	r2, err := guards.Acquire("alice", "burn")
	require.NoError(t, err)
	defer r2()
}

func TestAccountGuards_ReleaseIsIdempotent(t *testing.T) {
	guards := NewAccountGuards()

	release, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)

	release()
	release() // must not release someone else's later guard

	r2, err := guards.Acquire("alice", "mint")
	require.NoError(t, err)
	release() // stale release again
	assert.True(t, guards.Held("alice", "mint"))
	r2()
}

func newTestCoordinator(grace time.Duration) (*Coordinator, *time.Time) {
	c := NewCoordinator(grace)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCoordinator_IdleAllowsAnyOperation(t *testing.T) {
	for _, op := range []Operation{OpMint, OpBurn, OpRebalance} {
		c, _ := newTestCoordinator(time.Minute)
		require.NoError(t, c.TryStart(op))
		assert.Equal(t, op, c.Current())
	}
}

func TestCoordinator_MintAndBurnCoexist(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)

	require.NoError(t, c.TryStart(OpMint))
	require.NoError(t, c.TryStart(OpBurn))
	require.NoError(t, c.TryStart(OpMint)) // second concurrent mint
}

func TestCoordinator_RebalanceConflictsBothWays(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)
	require.NoError(t, c.TryStart(OpMint))

	err := c.TryStart(OpRebalance)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConcurrency))

	c.End(OpMint)

	c2, _ := newTestCoordinator(time.Minute)
	require.NoError(t, c2.TryStart(OpRebalance))
	err = c2.TryStart(OpMint)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConcurrency))
	err = c2.TryStart(OpBurn)
	require.Error(t, err)
}

func TestCoordinator_GracePeriodBlocksTypeSwitch(t *testing.T) {
	c, now := newTestCoordinator(time.Minute)

	require.NoError(t, c.TryStart(OpMint))
	c.End(OpMint)

	// Switching to rebalance inside the grace window fails.
	*now = now.Add(30 * time.Second)
	err := c.TryStart(OpRebalance)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grace period")

	// Same-type re-entry is unaffected.
	require.NoError(t, c.TryStart(OpMint))
	c.End(OpMint)

	// After the full period the switch succeeds.
	*now = now.Add(61 * time.Second)
	require.NoError(t, c.TryStart(OpRebalance))
}

func TestCoordinator_GraceAfterRebalanceBlocksMint(t *testing.T) {
	c, now := newTestCoordinator(time.Minute)

	require.NoError(t, c.TryStart(OpRebalance))
	c.End(OpRebalance)

	*now = now.Add(10 * time.Second)
	err := c.TryStart(OpMint)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConcurrency))

	*now = now.Add(time.Minute)
	require.NoError(t, c.TryStart(OpMint))
}

func TestCoordinator_EndOnlyClearsMatchingState(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)

	require.NoError(t, c.TryStart(OpMint))

	// Ending an operation that never started must not disturb the mint.
	c.End(OpRebalance)
	c.End(OpBurn)
	assert.Equal(t, OpMint, c.Current())

	c.End(OpMint)
	assert.Equal(t, OpIdle, c.Current())
}

func TestCoordinator_StateClearsWhenLastHolderLeaves(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)

	require.NoError(t, c.TryStart(OpMint))
	require.NoError(t, c.TryStart(OpMint))

	c.End(OpMint)
	assert.Equal(t, OpMint, c.Current(), "one mint still active")

	c.End(OpMint)
	assert.Equal(t, OpIdle, c.Current())
}

func TestCoordinator_PauseGate(t *testing.T) {
	c, _ := newTestCoordinator(time.Minute)

	require.NoError(t, c.CheckNotPaused())
	c.Pause()
	err := c.CheckNotPaused()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paused")
	c.Unpause()
	require.NoError(t, c.CheckNotPaused())
}
