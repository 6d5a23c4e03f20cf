// Copyright 2025 The repmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dbonne/repmgr/pkg/command"
	"github.com/dbonne/repmgr/pkg/config"
	"github.com/dbonne/repmgr/pkg/postgres"
)

const (
	_promoteCommand = "repmgr standby promote"
	_followCommand  = "repmgr standby follow"
)

func _testConfig(nodeID int, conninfo string) *config.Config {
	return &config.Config{
		NodeID:                     nodeID,
		ConnInfo:                   conninfo,
		FailoverMode:               config.FailoverAutomatic,
		PromoteCommand:             _promoteCommand,
		FollowCommand:              _followCommand,
		LogLevel:                   "error",
		PrimaryResponseTimeout:     1,
		PrimaryNotificationTimeout: 1,
		ReconnectAttempts:          1,
		ReconnectInterval:          0,
		MonitoringHistory:          true,
	}
}

func _conninfo(nodeID int) string {
	return fmt.Sprintf("host=node%d dbname=repmgr", nodeID)
}

func _addFakePrimary(cluster *postgres.FakeConnector, nodeID int) *postgres.FakeNode {
	return cluster.AddNode(postgres.NodeInfo{
		NodeID:   nodeID,
		NodeName: fmt.Sprintf("node%d", nodeID),
		ConnInfo: _conninfo(nodeID),
		Type:     postgres.NodePrimary,
		Priority: 100,
		Active:   true,
	}, postgres.InvalidLSN, postgres.RecoveryTypePrimary)
}

func _addFakeStandby(cluster *postgres.FakeConnector, nodeID, upstreamID, priority int, lsn postgres.LSN) *postgres.FakeNode {
	return cluster.AddNode(postgres.NodeInfo{
		NodeID:         nodeID,
		NodeName:       fmt.Sprintf("node%d", nodeID),
		ConnInfo:       _conninfo(nodeID),
		Type:           postgres.NodeStandby,
		UpstreamNodeID: upstreamID,
		Priority:       priority,
		Active:         true,
	}, lsn, postgres.RecoveryTypeStandby)
}

// _newFakeMonitor assembles a Monitor for the given fake cluster member, with
// its local session already established the way the daemon startup does.
func _newFakeMonitor(cluster *postgres.FakeConnector, nodeID int) (*Monitor, *command.FakeRunner) {
	node := cluster.Node(nodeID)

	sess, err := cluster.Connect(node.Info.ConnInfo)
	if err != nil {
		panic(err)
	}

	runner := command.NewFakeRunner()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewMonitor(
		logger,
		_testConfig(nodeID, node.Info.ConnInfo),
		Connector(cluster),
		CommandRunner(runner),
		LocalSession(sess),
		LocalNodeInfo(node.Info),
	)

	if node.Info.UpstreamNodeID != 0 {
		if upstream := cluster.Node(node.Info.UpstreamNodeID); upstream != nil {
			m.upstreamNodeInfo = upstream.Info
		}
	}

	return m, runner
}

// _promoteHook mutates the fake cluster the way the operator's promote
// command would: the node becomes primary and the failed primary is
// deactivated.
func _promoteHook(cluster *postgres.FakeConnector, nodeID, failedPrimaryID int) func(cmd string) {
	return func(cmd string) {
		if cmd != _promoteCommand {
			return
		}

		node := cluster.Node(nodeID)
		node.Recovery = postgres.RecoveryTypePrimary
		node.Info.Type = postgres.NodePrimary
		node.Info.UpstreamNodeID = 0

		if failed := cluster.Node(failedPrimaryID); failed != nil {
			failed.Info.Active = false
		}
	}
}

// _followHook re-attaches the node to the new primary the way the operator's
// follow command would.
func _followHook(cluster *postgres.FakeConnector, nodeID, newPrimaryID int) func(cmd string) {
	return func(cmd string) {
		if cmd != _followCommand {
			return
		}

		cluster.Node(nodeID).Info.UpstreamNodeID = newPrimaryID
	}
}
