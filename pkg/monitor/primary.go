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

// monitorStreamingPrimary polls the local node's reachability once per
// second. Loss of the local node does not trigger failover here; the standbys
// detect the outage independently and elect among themselves.
func (m *Monitor) monitorStreamingPrimary(ctx context.Context) {
	nodeStatus := postgres.NodeStatusUp

	m.logStartupEvent(m.localConn, fmt.Sprintf("monitoring cluster primary %q (node ID: %d)",
		m.localNodeInfo.NodeName, m.localNodeInfo.NodeID))

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

		switch {
		case !m.connector.IsAvailable(m.localNodeInfo.ConnInfo) && nodeStatus == postgres.NodeStatusUp:
			// node is down, we were expecting it to be up
			m.Logger.Warn("unable to connect to local node", "node_id", m.localNodeInfo.NodeID)
			nodeStatus = postgres.NodeStatusUnknown

			unreachableStart := time.Now()

			if m.localConn != nil {
				m.localConn.Close()
				m.localConn = nil
			}

			m.createEventRecord(nil, m.cfg.NodeID, "repmgrd_local_disconnect", true,
				"unable to connect to local node")

			sess, status := m.connector.TryReconnect(
				m.localNodeInfo.ConnInfo,
				m.cfg.ReconnectAttempts,
				m.cfg.ReconnectIntervalDuration(),
			)
			nodeStatus = status

			if status == postgres.NodeStatusUp {
				m.localConn = sess
				details := fmt.Sprintf("reconnected to local node after %d seconds",
					int(time.Since(unreachableStart).Seconds()))
				m.createEventRecord(m.localConn, m.cfg.NodeID, "repmgrd_local_reconnect", true, details)
			}

		case nodeStatus != postgres.NodeStatusUp && m.connector.IsAvailable(m.localNodeInfo.ConnInfo):
			// the local node came back on its own after the bounded
			// reconnect budget was exhausted
			if sess, err := m.connector.Connect(m.localNodeInfo.ConnInfo); err == nil {
				m.localConn = sess
				nodeStatus = postgres.NodeStatusUp
				m.Logger.Info("reconnected to local node", "node_id", m.localNodeInfo.NodeID)
			}
		}

		if m.statusIntervalElapsed(&logStatusStart) {
			m.Logger.Info("monitoring primary node",
				"node_name", m.localNodeInfo.NodeName,
				"node_id", m.localNodeInfo.NodeID)
		}
	}
}
