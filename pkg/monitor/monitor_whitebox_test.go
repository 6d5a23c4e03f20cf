package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/dbonne/repmgr/pkg/postgres"
	"github.com/stretchr/testify/assert"
)

func TestRun_WitnessNodeIsNotMonitored(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	cluster.AddNode(postgres.NodeInfo{
		NodeID:   5,
		NodeName: "witness5",
		ConnInfo: _conninfo(5),
		Type:     postgres.NodeWitness,
		Active:   true,
	}, postgres.InvalidLSN, postgres.RecoveryTypeStandby)

	m, _ := _newFakeMonitor(cluster, 5)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return for a witness node")
	}
}

func TestRun_PrimaryMonitorEmitsStartupEvent(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)

	m, _ := _newFakeMonitor(cluster, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	assert.Equal(t, RolePrimaryMonitor, m.GetRole())

	events := cluster.Node(1).Events
	assert.Len(t, events, 1)
	assert.Equal(t, "repmgrd_start", events[0].Event)

	// the voting flag is reset at the top of each monitoring iteration
	assert.Equal(t, postgres.VotingStatusNoVote, cluster.Node(1).VotingStatus)
}

func TestMonitor_ResetNodeVotingStatusClearsFailoverState(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)

	m, _ := _newFakeMonitor(cluster, 2)
	m.setFailoverState(FailoverStatePromotionFailed)

	m.resetNodeVotingStatus()

	assert.Equal(t, FailoverStateNone, m.GetFailoverState())
}

func TestMonitor_EventRecordsAreGatedByMonitoringHistory(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)

	m, _ := _newFakeMonitor(cluster, 2)
	m.cfg.MonitoringHistory = false

	m.createEventRecord(m.localConn, 2, "repmgrd_start", true, "monitoring")

	assert.Empty(t, cluster.Node(2).Events)
}

func TestMonitor_CloseReleasesSessions(t *testing.T) {
	cluster := postgres.NewFakeConnector()
	_addFakePrimary(cluster, 1)
	_addFakeStandby(cluster, 2, 1, 100, 100)

	m, _ := _newFakeMonitor(cluster, 2)
	m.Close()

	assert.Equal(t, 0, cluster.OpenSessionCount())
}
