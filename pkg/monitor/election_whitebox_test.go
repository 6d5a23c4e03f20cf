package monitor

import (
	"testing"

	"github.com/dbonne/repmgr/pkg/postgres"
	"github.com/stretchr/testify/assert"
)

func TestDoElection_SoleSurvivorWins(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	cluster.SetReachable(1, false)

	m, _ := _newFakeMonitor(cluster, 2)

	assert.Equal(t, ElectionWon, m.doElection())
}

func TestDoElection_UnanimousWin(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	_addFakeStandby(cluster, 4, 1, 80, 100)
	cluster.SetReachable(1, false)

	m, _ := _newFakeMonitor(cluster, 2)

	assert.Equal(t, ElectionWon, m.doElection())

	// peers were marked as vote-requested, so they cannot become candidates
	assert.Equal(t, postgres.VotingStatusVoteRequestReceived, cluster.Node(3).VotingStatus)
	assert.Equal(t, postgres.VotingStatusVoteRequestReceived, cluster.Node(4).VotingStatus)

	// all peer sessions from the election round are released; only the
	// monitor's own local session remains
	assert.Equal(t, 1, cluster.OpenSessionCount())
}

func TestDoElection_VoteRequestAlreadyReceived(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	cluster.Node(2).VotingStatus = postgres.VotingStatusVoteRequestReceived

	m, _ := _newFakeMonitor(cluster, 2)

	assert.Equal(t, ElectionNotCandidate, m.doElection())
}

func TestDoElection_MutualCandidacyWithdraws(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	// node 3 claimed candidacy concurrently, with a term at least as recent
	cluster.Node(3).VotingStatus = postgres.VotingStatusVoteInitiated
	cluster.Node(3).CurrentTerm = 99

	m2, _ := _newFakeMonitor(cluster, 2)
	assert.Equal(t, ElectionNotCandidate, m2.doElection())

	// the withdrawing candidate resets its own voting flag so it can still
	// grant a vote in this episode
	assert.Equal(t, postgres.VotingStatusNoVote, cluster.Node(2).VotingStatus)

	// the surviving candidate proceeds and wins
	m3, _ := _newFakeMonitor(cluster, 3)
	assert.Equal(t, ElectionWon, m3.doElection())

	// one local session per monitor; no peer session leaked
	assert.Equal(t, 2, cluster.OpenSessionCount())
}

func TestDoElection_NoSelfVoteWhenBehind(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 101)
	cluster.SetReachable(1, false)

	m, _ := _newFakeMonitor(cluster, 2)

	// node 3 is ahead, so node 2 must not count its own vote and cannot
	// reach unanimity
	assert.Equal(t, ElectionLost, m.doElection())
}

func TestDoElection_UnreachablePeersAreNotVisible(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	_addFakeStandby(cluster, 4, 1, 80, 100)
	cluster.SetReachable(1, false)
	cluster.SetReachable(3, false)
	cluster.SetReachable(4, false)

	m, _ := _newFakeMonitor(cluster, 2)

	// with no peer visible the candidate is the only voter; it declares
	// victory with visible_nodes=1
	assert.Equal(t, ElectionWon, m.doElection())
}

func TestPollBestCandidate_HighestLSNWins(t *testing.T) {
	self := &postgres.NodeInfo{NodeID: 2, Priority: 80, LastWALReceiveLSN: 100}
	standbyNodes := &postgres.NodeInfoList{Nodes: []*postgres.NodeInfo{
		{NodeID: 3, Priority: 100, LastWALReceiveLSN: 101},
		{NodeID: 4, Priority: 90, LastWALReceiveLSN: 100},
	}}

	assert.Equal(t, 3, pollBestCandidate(self, standbyNodes).NodeID)
}

func TestPollBestCandidate_PriorityBreaksLSNTie(t *testing.T) {
	self := &postgres.NodeInfo{NodeID: 2, Priority: 80, LastWALReceiveLSN: 100}
	standbyNodes := &postgres.NodeInfoList{Nodes: []*postgres.NodeInfo{
		{NodeID: 3, Priority: 90, LastWALReceiveLSN: 100},
		{NodeID: 4, Priority: 100, LastWALReceiveLSN: 100},
	}}

	assert.Equal(t, 4, pollBestCandidate(self, standbyNodes).NodeID)
}

func TestPollBestCandidate_LowestNodeIDBreaksFullTie(t *testing.T) {
	self := &postgres.NodeInfo{NodeID: 3, Priority: 100, LastWALReceiveLSN: 100}
	standbyNodes := &postgres.NodeInfoList{Nodes: []*postgres.NodeInfo{
		{NodeID: 4, Priority: 100, LastWALReceiveLSN: 100},
		{NodeID: 2, Priority: 100, LastWALReceiveLSN: 100},
	}}

	assert.Equal(t, 2, pollBestCandidate(self, standbyNodes).NodeID)
}

func TestPollBestCandidate_IsDeterministicAcrossNodes(t *testing.T) {
	// any two nodes running the poll over the same inputs must pick the
	// same winner
	records := []*postgres.NodeInfo{
		{NodeID: 2, Priority: 80, LastWALReceiveLSN: 100},
		{NodeID: 3, Priority: 100, LastWALReceiveLSN: 101},
		{NodeID: 4, Priority: 90, LastWALReceiveLSN: 100},
	}

	for _, self := range records {
		siblings := &postgres.NodeInfoList{}
		for _, r := range records {
			if r.NodeID != self.NodeID {
				siblings.Nodes = append(siblings.Nodes, r)
			}
		}

		assert.Equal(t, 3, pollBestCandidate(self, siblings).NodeID)
	}
}

func TestRefreshStandbyNodes_PreservesRecordedLSNs(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)
	_addFakeStandby(cluster, 3, 1, 90, 100)
	cluster.SetReachable(1, false)

	m, _ := _newFakeMonitor(cluster, 2)

	m.standbyNodes = &postgres.NodeInfoList{Nodes: []*postgres.NodeInfo{
		{NodeID: 3, LastWALReceiveLSN: 123},
	}}

	m.refreshStandbyNodes(true)

	assert.Equal(t, 1, m.standbyNodes.Len())
	assert.Equal(t, postgres.LSN(123), m.standbyNodes.Nodes[0].LastWALReceiveLSN)
}
