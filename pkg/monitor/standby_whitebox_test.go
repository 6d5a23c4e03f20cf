package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/dbonne/repmgr/pkg/postgres"
	"github.com/stretchr/testify/assert"
)

// TestFailoverEpisode_ThreeStandbyCleanFailover walks three standbys through
// a primary loss: the first to run its election wins unanimously and
// promotes; the others are notified and re-attach to it.
func TestFailoverEpisode_ThreeStandbyCleanFailover(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	_addFakeStandby(cluster, 4, 1, 80, 100)
	cluster.SetReachable(1, false)

	m2, runner2 := _newFakeMonitor(cluster, 2)
	m3, runner3 := _newFakeMonitor(cluster, 3)
	m4, runner4 := _newFakeMonitor(cluster, 4)
	runner2.Hook = _promoteHook(cluster, 2, 1)
	runner3.Hook = _followHook(cluster, 3, 2)
	runner4.Hook = _followHook(cluster, 4, 2)

	ctx := context.Background()

	// node 2 detects the outage first and wins the election
	assert.True(t, m2.handleUpstreamFailure(ctx))
	assert.Equal(t, postgres.NodePrimary, m2.localNodeInfo.Type)

	// the other standbys ran into node 2's vote request, wait for its
	// notification, and follow it
	assert.True(t, m3.handleUpstreamFailure(ctx))
	assert.Equal(t, 2, m3.localNodeInfo.UpstreamNodeID)

	assert.True(t, m4.handleUpstreamFailure(ctx))
	assert.Equal(t, 2, m4.localNodeInfo.UpstreamNodeID)

	// exactly one node promoted itself
	assert.Equal(t, []string{_promoteCommand}, runner2.Commands)
	assert.Equal(t, []string{_followCommand}, runner3.Commands)
	assert.Equal(t, []string{_followCommand}, runner4.Commands)

	promoteEvents := 0
	for _, nodeID := range []int{2, 3, 4} {
		for _, event := range cluster.Node(nodeID).Events {
			if event.Event == "repmgrd_failover_promote" {
				promoteEvents++
			}
		}
	}
	assert.Equal(t, 1, promoteEvents)

	// sibling sessions from the episode are all released: each monitor
	// keeps its local session, followers also keep their new upstream
	assert.Equal(t, 5, cluster.OpenSessionCount())
}

// TestFailoverEpisode_PrimaryReappearsDuringPromote restores the original
// primary while the winner's promote command runs: the winner aborts and the
// fleet resumes the original topology.
func TestFailoverEpisode_PrimaryReappearsDuringPromote(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	m2, runner2 := _newFakeMonitor(cluster, 2)
	m3, runner3 := _newFakeMonitor(cluster, 3)

	runner2.Errors[_promoteCommand] = fmt.Errorf("exit status 1")
	runner2.Hook = func(cmd string) {
		cluster.SetReachable(1, true)
	}

	ctx := context.Background()

	// the winner observes the reappearance and takes no action
	assert.True(t, m2.handleUpstreamFailure(ctx))
	assert.Equal(t, postgres.NodeStandby, m2.localNodeInfo.Type)

	// the sibling is told to resume following the original primary
	assert.True(t, m3.handleUpstreamFailure(ctx))
	assert.Equal(t, 1, m3.localNodeInfo.UpstreamNodeID)
	assert.Empty(t, runner3.Commands)
	assert.Empty(t, cluster.Node(3).Events)

	assert.Equal(t, []int{1}, cluster.Node(3).FollowNotifications)
}

// TestFailoverEpisode_LostElectionDelegatesToBestCandidate verifies the
// LOST path: the candidate that is behind determines the best candidate by
// recorded WAL position and notifies it instead of promoting itself.
func TestFailoverEpisode_LostElectionDelegatesToBestCandidate(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 80, 100)
	_addFakeStandby(cluster, 3, 1, 100, 101)
	_addFakeStandby(cluster, 4, 1, 90, 100)
	cluster.SetReachable(1, false)

	m2, runner2 := _newFakeMonitor(cluster, 2)

	// node 2 loses: node 3 is ahead, so it neither gets node 3's vote nor
	// its own
	assert.Equal(t, ElectionLost, m2.doElection())

	m2.refreshStandbyNodes(true)
	bestCandidate := pollBestCandidate(&m2.localNodeInfo, m2.standbyNodes)
	assert.Equal(t, 3, bestCandidate.NodeID)

	// the full handler delivers the follow-primary directive to the best
	// candidate; this node did not run any command
	m2.cfg.PrimaryNotificationTimeout = 0
	assert.True(t, m2.handleUpstreamFailure(context.Background()))
	assert.Equal(t, []int{3}, cluster.Node(3).FollowNotifications)
	assert.Empty(t, runner2.Commands)
}

// TestHandleUpstreamFailure_NoNewPrimary times out the notification wait:
// control returns to the dispatcher so the election can be retried.
func TestHandleUpstreamFailure_NoNewPrimary(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	// node 3 claimed candidacy first, so node 2 is not a candidate and
	// waits for a notification that never arrives
	cluster.Node(3).VotingStatus = postgres.VotingStatusVoteInitiated
	cluster.Node(3).CurrentTerm = 99

	m2, runner2 := _newFakeMonitor(cluster, 2)
	m2.cfg.PrimaryNotificationTimeout = 0

	assert.True(t, m2.handleUpstreamFailure(context.Background()))
	assert.Empty(t, runner2.Commands)
}

// TestHandleUpstreamFailure_DelegatedPromotion delivers a follow-primary
// directive naming the waiting node itself: the winner declined, so the
// waiter promotes.
func TestHandleUpstreamFailure_DelegatedPromotion(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	// another candidate is in flight, so node 2 will wait
	cluster.Node(3).VotingStatus = postgres.VotingStatusVoteInitiated
	cluster.Node(3).CurrentTerm = 99

	// the directive names node 2 itself
	sess, err := cluster.Connect(_conninfo(2))
	assert.NoError(t, err)
	assert.NoError(t, sess.NotifyFollowPrimary(2))
	sess.Close()

	m2, runner2 := _newFakeMonitor(cluster, 2)
	runner2.Hook = _promoteHook(cluster, 2, 1)

	assert.True(t, m2.handleUpstreamFailure(context.Background()))
	assert.Equal(t, []string{_promoteCommand}, runner2.Commands)
	assert.Equal(t, postgres.NodePrimary, m2.localNodeInfo.Type)
}
