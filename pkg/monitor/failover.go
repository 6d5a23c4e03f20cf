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
	"context"
	"fmt"
	"time"

	"github.com/dbonne/repmgr/pkg/postgres"
)

// FailoverState captures the orchestrator's progress through a failover
// episode.
type FailoverState string

const (
	FailoverStateNone                     FailoverState = "none"
	FailoverStatePromoted                 FailoverState = "promoted"
	FailoverStatePromotionFailed          FailoverState = "promotion-failed"
	FailoverStatePrimaryReappeared        FailoverState = "primary-reappeared"
	FailoverStateLocalNodeFailure         FailoverState = "local-node-failure"
	FailoverStateWaitingNewPrimary        FailoverState = "waiting-new-primary"
	FailoverStateFollowedNewPrimary       FailoverState = "followed-new-primary"
	FailoverStateFollowingOriginalPrimary FailoverState = "following-original-primary"
	FailoverStateNoNewPrimary             FailoverState = "no-new-primary"
	FailoverStateFollowFail               FailoverState = "follow-fail"
	FailoverStateNodeNotificationError    FailoverState = "node-notification-error"
	FailoverStateUnknown                  FailoverState = "unknown"
)

// promoteSelf invokes the operator-supplied promote command and classifies
// the outcome. A non-zero exit is checked against the possibility that the
// original primary reappeared while the command ran.
func (m *Monitor) promoteSelf() FailoverState {
	// optional delay before promoting; mainly useful for testing the
	// reappearance of the original primary
	if m.cfg.PromoteDelay > 0 {
		m.Logger.Debug("sleeping before promoting standby", "promote_delay", m.cfg.PromoteDelay)
		time.Sleep(time.Duration(m.cfg.PromoteDelay) * time.Second)
	}

	// store details of the failed node for the audit records below
	failedPrimary := m.upstreamNodeInfo
	if record, err := m.localConn.NodeRecord(m.localNodeInfo.UpstreamNodeID); err == nil {
		failedPrimary = *record
	}

	// the presence of at least one of these has been established at startup
	promoteCommand := m.cfg.PromoteCommand
	if m.cfg.ServicePromoteCommand != "" {
		promoteCommand = m.cfg.ServicePromoteCommand
	}

	m.Logger.Debug("promote command", "command", promoteCommand)
	_, cmdErr := m.cmdRunner.Run(promoteCommand)

	// the local session should stay up over a promote, but check just in case
	if m.localConn == nil || m.localConn.Ping() != nil {
		if m.localConn != nil {
			m.localConn.Close()
			m.localConn = nil
		}

		sess, err := m.connector.Connect(m.localNodeInfo.ConnInfo)
		if err != nil {
			m.Logger.Error("unable to reconnect to local node", "error", err)
			return FailoverStateLocalNodeFailure
		}
		m.localConn = sess
	}

	if cmdErr != nil {
		primaryConn, primaryNodeID, err := m.connector.PrimaryConnection(m.localConn)
		if err == nil && primaryNodeID == failedPrimary.NodeID {
			details := fmt.Sprintf("original primary %q (node ID: %d) reappeared before this standby was promoted - no action taken",
				failedPrimary.NodeName, failedPrimary.NodeID)
			m.createEventRecord(primaryConn, m.localNodeInfo.NodeID, "repmgrd_failover_abort", true, details)
			primaryConn.Close()
			return FailoverStatePrimaryReappeared
		}
		if primaryConn != nil {
			primaryConn.Close()
		}

		m.Logger.Error("promote command failed", "error", cmdErr)
		m.createEventRecord(m.localConn, m.localNodeInfo.NodeID, "repmgrd_failover_promote", false, "promote command failed")
		return FailoverStatePromotionFailed
	}

	// the promote command is expected to have updated the metadata, so
	// refresh our own record from the database
	if record, err := m.localConn.NodeRecord(m.localNodeInfo.NodeID); err == nil {
		m.localNodeInfo = *record
	} else {
		m.Logger.Warn("unable to refresh own node record after promotion", "error", err)
	}

	details := fmt.Sprintf("node %d promoted to primary; old primary %d marked as failed",
		m.localNodeInfo.NodeID, failedPrimary.NodeID)
	m.createEventRecord(m.localConn, m.localNodeInfo.NodeID, "repmgrd_failover_promote", true, details)

	return FailoverStatePromoted
}

// waitPrimaryNotification polls the local follow-primary directive once per
// second until a candidate delivers one or the configured timeout elapses.
func (m *Monitor) waitPrimaryNotification(ctx context.Context) (bool, int) {
	timeout := m.cfg.PrimaryNotificationTimeout

	for i := 0; i < timeout; i++ {
		if m.localConn != nil {
			found, newPrimaryID, err := m.localConn.NewPrimary()
			if err != nil {
				m.Logger.Warn("unable to poll for new primary", "error", err)
			} else if found {
				m.Logger.Debug("new primary notification received",
					"new_primary_id", newPrimaryID, "elapsed_seconds", i)
				return true, newPrimaryID
			}
		}

		select {
		case <-ctx.Done():
			return false, 0
		case <-time.After(time.Second):
		}
	}

	m.Logger.Warn("no notification received from new primary", "timeout_seconds", timeout)
	return false, 0
}

// followNewPrimary re-attaches the local node to the newly promoted primary
// by invoking the operator-supplied follow command.
func (m *Monitor) followNewPrimary(newPrimaryID int) FailoverState {
	newPrimary, err := m.localConn.NodeRecord(newPrimaryID)
	if err != nil {
		m.Logger.Error("unable to fetch new primary's node record",
			"new_primary_id", newPrimaryID, "error", err)
		return FailoverStateFollowFail
	}

	failedPrimary := m.upstreamNodeInfo
	if record, err := m.localConn.NodeRecord(m.localNodeInfo.UpstreamNodeID); err == nil {
		failedPrimary = *record
	}

	m.Logger.Debug("standby follow command", "command", m.cfg.FollowCommand)

	// the follow operation restarts the local instance, so disconnect first
	m.localConn.Close()
	m.localConn = nil

	primaryConn, err := m.connector.Connect(newPrimary.ConnInfo)
	if err != nil {
		m.Logger.Warn("unable to connect to new primary", "new_primary_id", newPrimaryID, "error", err)
		return FailoverStateFollowFail
	}

	if primaryConn.RecoveryType() != postgres.RecoveryTypePrimary {
		m.Logger.Warn("new primary is still in recovery", "new_primary_id", newPrimaryID)
		primaryConn.Close()
		return FailoverStateFollowFail
	}

	if _, cmdErr := m.cmdRunner.Run(m.cfg.FollowCommand); cmdErr != nil {
		primaryConn.Close()

		// the follow command refuses to re-attach while the original
		// primary is available, so check whether it came back
		oldPrimaryConn, err := m.connector.Connect(failedPrimary.ConnInfo)
		if err == nil {
			recoveryType := oldPrimaryConn.RecoveryType()
			oldPrimaryConn.Close()

			if recoveryType == postgres.RecoveryTypePrimary {
				m.Logger.Info("original primary reappeared - no action taken")
				return FailoverStatePrimaryReappeared
			}
		}

		m.Logger.Error("follow command failed", "error", cmdErr)
		return FailoverStateFollowFail
	}

	// refresh local copies of our own and the upstream record directly from
	// the new primary, which has the current versions
	if record, err := primaryConn.NodeRecord(newPrimaryID); err == nil {
		m.upstreamNodeInfo = *record
	}
	if record, err := primaryConn.NodeRecord(m.localNodeInfo.NodeID); err == nil {
		m.localNodeInfo = *record
	}

	if m.upstreamConn != nil {
		m.upstreamConn.Close()
	}
	m.upstreamConn = primaryConn

	localConn, err := m.connector.Connect(m.localNodeInfo.ConnInfo)
	if err != nil {
		m.Logger.Warn("unable to reconnect to local node after follow", "error", err)
	} else {
		m.localConn = localConn
	}

	details := fmt.Sprintf("node %d now following new upstream node %d",
		m.localNodeInfo.NodeID, m.upstreamNodeInfo.NodeID)
	m.createEventRecord(primaryConn, m.localNodeInfo.NodeID, "repmgrd_failover_follow", true, details)

	return FailoverStateFollowedNewPrimary
}

// notifyFollowers tells the former siblings which node to follow. Normally
// that is this node; if the original primary reappeared before promotion it
// is the original primary, so the fleet resumes the former topology.
// Individual unreachable peers are skipped, never fatal.
func (m *Monitor) notifyFollowers(standbyNodes *postgres.NodeInfoList, followNodeID int) {
	m.Logger.Debug("notifying followers", "count", standbyNodes.Len(), "follow_node_id", followNodeID)

	for _, node := range standbyNodes.Nodes {
		if node.Conn == nil || node.Conn.Ping() != nil {
			if node.Conn != nil {
				node.Conn.Close()
				node.Conn = nil
			}

			sess, err := m.connector.Connect(node.ConnInfo)
			if err != nil {
				m.Logger.Debug("unable to reconnect to follower", "node_id", node.NodeID, "error", err)
				continue
			}
			node.Conn = sess
		}

		if err := node.Conn.NotifyFollowPrimary(followNodeID); err != nil {
			m.Logger.Warn("unable to notify follower", "node_id", node.NodeID, "error", err)
		}
	}
}
