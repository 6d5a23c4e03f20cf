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

	"github.com/dbonne/repmgr/pkg/config"
	"github.com/dbonne/repmgr/pkg/postgres"
)

// monitorStreamingStandby polls the upstream node's reachability once per
// second. When the upstream is declared down after the bounded reconnect
// budget, it drives the election and failover sequence. Returning hands
// control back to the top-level dispatcher, which re-reads the node type and
// switches monitoring mode.
func (m *Monitor) monitorStreamingStandby(ctx context.Context) {
	upstreamStatus := postgres.NodeStatusUp

	// a failed follow leaves the local session closed
	if m.localConn == nil {
		sess, err := m.connector.Connect(m.cfg.ConnInfo)
		if err != nil {
			m.Logger.Warn("unable to reconnect to local node", "error", err)
			time.Sleep(time.Second)
			return
		}
		m.localConn = sess
	}

	record, err := m.localConn.NodeRecord(m.localNodeInfo.UpstreamNodeID)
	if err != nil {
		m.Logger.Error("unable to fetch upstream node record",
			"upstream_node_id", m.localNodeInfo.UpstreamNodeID, "error", err)
		time.Sleep(time.Second)
		return
	}
	m.upstreamNodeInfo = *record

	if m.upstreamConn != nil {
		m.upstreamConn.Close()
		m.upstreamConn = nil
	}
	if sess, err := m.connector.Connect(m.upstreamNodeInfo.ConnInfo); err == nil {
		m.upstreamConn = sess
	} else {
		m.Logger.Warn("unable to connect to upstream node",
			"upstream_node_id", m.upstreamNodeInfo.NodeID, "error", err)
	}

	m.logStartupEvent(m.upstreamConn, fmt.Sprintf("monitoring upstream node %q (node ID: %d)",
		m.upstreamNodeInfo.NodeName, m.upstreamNodeInfo.NodeID))

	logStatusStart := time.Now()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.maybeReloadConfig()

		if !m.connector.IsAvailable(m.upstreamNodeInfo.ConnInfo) && upstreamStatus == postgres.NodeStatusUp {
			// upstream node is down, we were expecting it to be up
			m.Logger.Warn("unable to connect to upstream node",
				"upstream_node_id", m.upstreamNodeInfo.NodeID)
			upstreamStatus = postgres.NodeStatusUnknown

			if m.upstreamConn != nil {
				m.upstreamConn.Close()
				m.upstreamConn = nil
			}

			sess, status := m.connector.TryReconnect(
				m.upstreamNodeInfo.ConnInfo,
				m.cfg.ReconnectAttempts,
				m.cfg.ReconnectIntervalDuration(),
			)
			upstreamStatus = status

			if status == postgres.NodeStatusUp {
				m.upstreamConn = sess
				m.Logger.Info("reconnected to upstream node",
					"upstream_node_id", m.upstreamNodeInfo.NodeID)
			}

			if status == postgres.NodeStatusDown {
				if m.cfg.FailoverMode != config.FailoverAutomatic {
					m.Logger.Info("upstream node is down but failover_mode is manual, no failover will be performed")
				} else if m.handleUpstreamFailure(ctx) {
					return
				} else {
					// failover did not complete; re-arm detection so a
					// later tick re-attempts the sequence
					upstreamStatus = postgres.NodeStatusUp
				}
			}
		}

		if m.statusIntervalElapsed(&logStatusStart) {
			m.Logger.Info("monitoring upstream node",
				"node_name", m.localNodeInfo.NodeName,
				"node_id", m.localNodeInfo.NodeID,
				"upstream_node_name", m.upstreamNodeInfo.NodeName,
				"upstream_node_id", m.upstreamNodeInfo.NodeID)
		}

		// local node upkeep: check the connection each tick and reconnect
		// best-effort; persistent failure degrades to passive logging
		if !m.connector.IsAvailable(m.localNodeInfo.ConnInfo) {
			m.Logger.Warn("connection to local node lost", "node_id", m.localNodeInfo.NodeID)

			if m.localConn != nil {
				m.localConn.Close()
				m.localConn = nil
			}
		}

		if m.localConn == nil || m.localConn.Ping() != nil {
			m.Logger.Info("attempting to reconnect to local node")

			if sess, err := m.connector.Connect(m.cfg.ConnInfo); err == nil {
				m.localConn = sess
				m.Logger.Info("reconnected to local node")
			} else {
				m.Logger.Warn("reconnection to local node failed", "error", err)
			}
		}
	}
}

// handleUpstreamFailure runs the election and drives the resulting failover
// action. It reports whether control should return to the top-level
// dispatcher (role switch, topology change, or election retry).
func (m *Monitor) handleUpstreamFailure(ctx context.Context) bool {
	electionResult := m.doElection()
	m.setFailoverState(FailoverStateUnknown)

	m.Logger.Debug("election result", "result", string(electionResult))

	switch electionResult {
	case ElectionWon:
		m.Logger.Info("election won, promoting self and informing other nodes")
		m.setFailoverState(m.promoteSelf())

	case ElectionLost:
		m.Logger.Info("election lost, determining the best candidate")

		m.refreshStandbyNodes( /* preserveLSNs */ true)
		bestCandidate := pollBestCandidate(&m.localNodeInfo, m.standbyNodes)
		m.Logger.Info("best candidate", "node_id", bestCandidate.NodeID)

		// a tie-break can establish that this node is the best candidate
		// after all
		if bestCandidate.NodeID == m.localNodeInfo.NodeID {
			m.Logger.Info("this node is the best candidate, promoting self and informing other nodes")
			m.setFailoverState(m.promoteSelf())
			break
		}

		m.Logger.Info("waiting for the best candidate to confirm so this node can follow it",
			"node_id", bestCandidate.NodeID)

		candidateConn, err := m.connector.Connect(bestCandidate.ConnInfo)
		if err != nil {
			m.Logger.Error("unable to connect to candidate node",
				"node_id", bestCandidate.NodeID, "error", err)
			m.setFailoverState(FailoverStateNodeNotificationError)
			break
		}

		if err := candidateConn.NotifyFollowPrimary(bestCandidate.NodeID); err != nil {
			m.Logger.Error("unable to notify candidate node",
				"node_id", bestCandidate.NodeID, "error", err)
			m.setFailoverState(FailoverStateNodeNotificationError)
		} else {
			// wait for the candidate to get back to us
			m.setFailoverState(FailoverStateWaitingNewPrimary)
		}
		candidateConn.Close()

	case ElectionNotCandidate:
		m.Logger.Info("follower node awaiting notification from the candidate node")
		m.setFailoverState(FailoverStateWaitingNewPrimary)
	}

	if m.GetFailoverState() == FailoverStateWaitingNewPrimary {
		if found, newPrimaryID := m.waitPrimaryNotification(ctx); found {
			switch {
			case newPrimaryID == m.upstreamNodeInfo.NodeID:
				// the original primary reappeared, nothing to do but
				// resume monitoring it
				m.setFailoverState(FailoverStateFollowingOriginalPrimary)

			case newPrimaryID == m.localNodeInfo.NodeID:
				// the winner delegated promotion to this node
				m.Logger.Info("this node is the promotion candidate, promoting")
				m.setFailoverState(m.promoteSelf())
				m.refreshStandbyNodes( /* preserveLSNs */ false)

			default:
				m.setFailoverState(m.followNewPrimary(newPrimaryID))
			}
		} else {
			m.setFailoverState(FailoverStateNoNewPrimary)
		}
	}

	switch m.GetFailoverState() {
	case FailoverStatePromoted:
		// notify former siblings that they should now follow this node
		m.notifyFollowers(m.standbyNodes, m.localNodeInfo.NodeID)
		m.standbyNodes.Clear()

		m.Logger.Info("switching to primary monitoring mode")
		m.setFailoverState(FailoverStateNone)
		return true

	case FailoverStatePrimaryReappeared:
		// notify siblings that they should resume following the original
		// primary
		m.notifyFollowers(m.standbyNodes, m.upstreamNodeInfo.NodeID)
		m.standbyNodes.Clear()

		m.Logger.Info("resuming standby monitoring mode",
			"original_primary_name", m.upstreamNodeInfo.NodeName,
			"original_primary_id", m.upstreamNodeInfo.NodeID)
		m.setFailoverState(FailoverStateNone)
		return true

	case FailoverStateFollowedNewPrimary:
		m.Logger.Info("resuming standby monitoring mode",
			"new_primary_name", m.upstreamNodeInfo.NodeName,
			"new_primary_id", m.upstreamNodeInfo.NodeID)
		m.setFailoverState(FailoverStateNone)
		return true

	case FailoverStateFollowingOriginalPrimary:
		m.Logger.Info("resuming standby monitoring mode",
			"original_primary_name", m.upstreamNodeInfo.NodeName,
			"original_primary_id", m.upstreamNodeInfo.NodeID)
		m.setFailoverState(FailoverStateNone)
		return true

	case FailoverStateNoNewPrimary, FailoverStateWaitingNewPrimary:
		// back to the top-level dispatcher, which will retry the election
		// on the next iteration
		m.standbyNodes.Clear()
		return true

	default:
		// PROMOTION_FAILED, LOCAL_NODE_FAILURE, FOLLOW_FAIL and
		// NODE_NOTIFICATION_ERROR stay in standby monitoring; the next
		// detected outage re-attempts the sequence
		m.standbyNodes.Clear()
		return false
	}
}
