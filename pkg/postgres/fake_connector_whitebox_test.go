package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func _twoStandbyCluster() *FakeConnector {
	c := NewFakeConnector()
	c.AddNode(NodeInfo{
		NodeID: 1, NodeName: "node1", ConnInfo: "host=node1",
		Type: NodePrimary, Priority: 100, Active: true,
	}, InvalidLSN, RecoveryTypePrimary)
	c.AddNode(NodeInfo{
		NodeID: 2, NodeName: "node2", ConnInfo: "host=node2",
		Type: NodeStandby, UpstreamNodeID: 1, Priority: 100, Active: true,
	}, 100, RecoveryTypeStandby)
	c.AddNode(NodeInfo{
		NodeID: 3, NodeName: "node3", ConnInfo: "host=node3",
		Type: NodeStandby, UpstreamNodeID: 1, Priority: 90, Active: true,
	}, 100, RecoveryTypeStandby)
	return c
}

func TestFakeConnector_ActiveSiblingNodeRecordsExcludesSelf(t *testing.T) {
	c := _twoStandbyCluster()

	sess, err := c.Connect("host=node2")
	assert.NoError(t, err)
	defer sess.Close()

	siblings, err := sess.ActiveSiblingNodeRecords(2, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, siblings.Len())
	assert.Equal(t, 3, siblings.Nodes[0].NodeID)
}

func TestFakeConnector_ActiveSiblingNodeRecordsSkipsInactive(t *testing.T) {
	c := _twoStandbyCluster()
	c.Node(3).Info.Active = false

	sess, err := c.Connect("host=node2")
	assert.NoError(t, err)
	defer sess.Close()

	siblings, err := sess.ActiveSiblingNodeRecords(2, 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, siblings.Len())
}

func TestFakeConnector_TryReconnectReportsDown(t *testing.T) {
	c := _twoStandbyCluster()
	c.SetReachable(1, false)

	sess, status := c.TryReconnect("host=node1", 2, time.Millisecond)
	assert.Nil(t, sess)
	assert.Equal(t, NodeStatusDown, status)
}

func TestFakeConnector_VotingStateMachine(t *testing.T) {
	c := _twoStandbyCluster()

	sess, err := c.Connect("host=node2")
	assert.NoError(t, err)
	defer sess.Close()

	status, err := sess.VotingStatus()
	assert.NoError(t, err)
	assert.Equal(t, VotingStatusNoVote, status)

	term, err := sess.SetVotingStatusInitiated()
	assert.NoError(t, err)
	assert.Equal(t, 1, term)

	status, _ = sess.VotingStatus()
	assert.Equal(t, VotingStatusVoteInitiated, status)

	// an announcement whose term is not newer than this candidate's own is
	// refused
	accepted, err := sess.AnnounceCandidature(3, 1)
	assert.NoError(t, err)
	assert.False(t, accepted)

	// terms are monotonic across the cluster
	peer, err := c.Connect("host=node3")
	assert.NoError(t, err)
	defer peer.Close()

	peerTerm, err := peer.SetVotingStatusInitiated()
	assert.NoError(t, err)
	assert.Equal(t, 2, peerTerm)

	assert.NoError(t, sess.ResetVotingStatus())
	status, _ = sess.VotingStatus()
	assert.Equal(t, VotingStatusNoVote, status)
}

func TestFakeConnector_RequestVoteRefusedWhenCandidateBehind(t *testing.T) {
	c := _twoStandbyCluster()
	c.Node(3).LSN = 200

	sess, err := c.Connect("host=node3")
	assert.NoError(t, err)
	defer sess.Close()

	granted, peerLSN, err := sess.RequestVote(2, 100, 1)
	assert.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, LSN(200), peerLSN)

	// the peer is now marked as vote-requested
	status, _ := sess.VotingStatus()
	assert.Equal(t, VotingStatusVoteRequestReceived, status)
}

func TestFakeConnector_RequestVoteGrantsOncePerTerm(t *testing.T) {
	c := _twoStandbyCluster()

	sess, err := c.Connect("host=node3")
	assert.NoError(t, err)
	defer sess.Close()

	granted, _, err := sess.RequestVote(2, 100, 1)
	assert.NoError(t, err)
	assert.True(t, granted)

	granted, _, err = sess.RequestVote(4, 100, 1)
	assert.NoError(t, err)
	assert.False(t, granted)
}

func TestFakeConnector_PrimaryConnection(t *testing.T) {
	c := _twoStandbyCluster()

	local, err := c.Connect("host=node2")
	assert.NoError(t, err)
	defer local.Close()

	sess, primaryID, err := c.PrimaryConnection(local)
	assert.NoError(t, err)
	assert.Equal(t, 1, primaryID)
	sess.Close()
}

func TestNodeInfoList_ClearClosesSessions(t *testing.T) {
	c := _twoStandbyCluster()

	sess, err := c.Connect("host=node3")
	assert.NoError(t, err)

	list := &NodeInfoList{Nodes: []*NodeInfo{{NodeID: 3, Conn: sess}}}
	before := c.OpenSessionCount()
	list.Clear()

	assert.Equal(t, before-1, c.OpenSessionCount())
	assert.Equal(t, 0, list.Len())
}

func TestFakeSession_OperationsFailWhenNodeUnreachable(t *testing.T) {
	c := _twoStandbyCluster()

	sess, err := c.Connect("host=node2")
	assert.NoError(t, err)
	defer sess.Close()

	c.SetReachable(2, false)

	assert.Error(t, sess.Ping())
	_, err = sess.NodeRecord(1)
	assert.Error(t, err)
}
