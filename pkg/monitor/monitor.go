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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbonne/repmgr/pkg/command"
	"github.com/dbonne/repmgr/pkg/config"
	"github.com/dbonne/repmgr/pkg/postgres"
)

// Role is the monitoring mode the daemon is currently running in.
type Role string

const (
	RoleNone           Role = "none"
	RolePrimaryMonitor Role = "primary-monitor"
	RoleStandbyMonitor Role = "standby-monitor"
)

// Monitor is the per-node monitoring daemon: it watches the local node (when
// primary) or the upstream node (when standby), and on upstream loss drives
// the election and failover sequence.
type Monitor struct {
	Logger *slog.Logger

	cfg *config.Config

	connector postgres.Connector
	cmdRunner command.Runner

	localConn    postgres.Session
	upstreamConn postgres.Session

	localNodeInfo    postgres.NodeInfo
	upstreamNodeInfo postgres.NodeInfo

	// standbyNodes is the sibling set of the most recent election or
	// notification round. It owns any sessions held by its members.
	standbyNodes *postgres.NodeInfoList

	startupEventLogged bool

	// reloadRequested is set by the SIGHUP handler and observed at the
	// next loop tick.
	reloadRequested atomic.Bool

	// m guards the role/failover-state snapshot shared with the HTTP API
	// goroutine.
	m             sync.RWMutex
	role          Role
	failoverState FailoverState
}

// NewMonitor assembles a Monitor. The local session and node record are
// established by the caller during startup, where their absence is fatal.
func NewMonitor(logger *slog.Logger, cfg *config.Config, configs ...MonitorConfig) *Monitor {
	m := &Monitor{
		Logger:        logger,
		cfg:           cfg,
		standbyNodes:  postgres.NewNodeInfoList(),
		role:          RoleNone,
		failoverState: FailoverStateNone,
	}

	for _, c := range configs {
		c(m)
	}

	return m
}

// Run is the top-level driver: each iteration resets the node's voting
// status and dispatches on the locally cached node type, so a promoted
// standby switches to primary monitoring on the next pass.
func (m *Monitor) Run(ctx context.Context) {
	m.Logger.Info("starting monitoring of node",
		"node_name", m.localNodeInfo.NodeName,
		"node_id", m.localNodeInfo.NodeID)

	for ctx.Err() == nil {
		m.maybeReloadConfig()
		m.resetNodeVotingStatus()

		switch m.localNodeInfo.Type {
		case postgres.NodePrimary:
			m.setRole(RolePrimaryMonitor)
			m.monitorStreamingPrimary(ctx)
		case postgres.NodeStandby:
			m.setRole(RoleStandbyMonitor)
			m.monitorStreamingStandby(ctx)
		case postgres.NodeWitness, postgres.NodeBDR:
			m.Logger.Warn("monitoring is not supported for this node type",
				"type", string(m.localNodeInfo.Type))
			return
		default:
			m.Logger.Error("node type is unknown, cannot monitor",
				"node_id", m.localNodeInfo.NodeID)
			return
		}
	}
}

// RequestReload asks the monitor to reread its configuration file at the next
// convenient point. Safe to call from the signal-handling goroutine.
func (m *Monitor) RequestReload() {
	m.reloadRequested.Store(true)
}

// Close releases the sessions held by the monitor.
func (m *Monitor) Close() {
	m.standbyNodes.Clear()

	if m.upstreamConn != nil {
		m.upstreamConn.Close()
		m.upstreamConn = nil
	}

	if m.localConn != nil {
		m.localConn.Close()
		m.localConn = nil
	}
}

// GetRole returns the current monitoring role.
func (m *Monitor) GetRole() Role {
	m.m.RLock()
	defer m.m.RUnlock()

	return m.role
}

// GetFailoverState returns the most recent failover progression state.
func (m *Monitor) GetFailoverState() FailoverState {
	m.m.RLock()
	defer m.m.RUnlock()

	return m.failoverState
}

// LocalNodeInfo returns the locally cached record of this node.
func (m *Monitor) LocalNodeInfo() postgres.NodeInfo {
	return m.localNodeInfo
}

func (m *Monitor) setRole(role Role) {
	m.m.Lock()
	m.role = role
	m.m.Unlock()

	for _, r := range []Role{RoleNone, RolePrimaryMonitor, RoleStandbyMonitor} {
		v := 0.0
		if r == role {
			v = 1.0
		}
		MonitoringRoleGaugeVec.WithLabelValues(string(r)).Set(v)
	}
}

func (m *Monitor) setFailoverState(state FailoverState) {
	m.m.Lock()
	prev := m.failoverState
	m.failoverState = state
	m.m.Unlock()

	if prev != state {
		m.Logger.Debug("failover state changed", "from", string(prev), "to", string(state))
		FailoverStateTransitionCounterVec.WithLabelValues(string(state)).Inc()
	}
}

func (m *Monitor) maybeReloadConfig() {
	if !m.reloadRequested.CompareAndSwap(true, false) {
		return
	}

	cfg, err := config.Load(m.cfg.FilePath)
	if err != nil {
		m.Logger.Warn("configuration reload failed, keeping current configuration", "error", err)
		return
	}

	m.cfg = cfg
	m.Logger.Info("configuration reloaded", "path", cfg.FilePath)
}

// resetNodeVotingStatus returns the voting flag to NO VOTE at the top of each
// monitoring iteration.
func (m *Monitor) resetNodeVotingStatus() {
	m.setFailoverState(FailoverStateNone)

	if m.localConn == nil || m.localConn.Ping() != nil {
		m.Logger.Error("unable to reset voting status, local connection not available")
		return
	}

	if err := m.localConn.ResetVotingStatus(); err != nil {
		m.Logger.Warn("unable to reset voting status", "error", err)
	}
}

// createEventRecord appends an audit event. The record is logged locally in
// any case; it is persisted only when monitoring history is enabled and a
// session is available.
func (m *Monitor) createEventRecord(sess postgres.Session, nodeID int, event string, successful bool, details string) {
	m.Logger.Info(details, "event", event, "node_id", nodeID)

	if sess == nil || !m.cfg.MonitoringHistory {
		return
	}

	if err := sess.CreateEventRecord(nodeID, event, successful, details); err != nil {
		m.Logger.Warn("unable to create event record", "event", event, "error", err)
	}
}

// logStartupEvent emits the one-time repmgrd_start event on entering a
// monitoring mode.
func (m *Monitor) logStartupEvent(sess postgres.Session, details string) {
	if m.startupEventLogged {
		return
	}

	m.startupEventLogged = true
	m.createEventRecord(sess, m.cfg.NodeID, "repmgrd_start", true, details)
}

// statusIntervalElapsed implements the "still alive" log pacing; it resets
// start when the configured interval has passed.
func (m *Monitor) statusIntervalElapsed(start *time.Time) bool {
	if m.cfg.LogStatusInterval <= 0 {
		return false
	}

	if time.Since(*start) < time.Duration(m.cfg.LogStatusInterval)*time.Second {
		return false
	}

	*start = time.Now()
	return true
}
