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
	"github.com/dbonne/repmgr/pkg/command"
	"github.com/dbonne/repmgr/pkg/postgres"
)

// MonitorConfig is a configuration that is applied into Monitor.
type MonitorConfig func(m *Monitor)

// Connector generates a config that sets the postgres.Connector into Monitor.
func Connector(c postgres.Connector) MonitorConfig {
	return func(m *Monitor) {
		m.connector = c
	}
}

// CommandRunner generates a config that sets the command.Runner into Monitor.
func CommandRunner(r command.Runner) MonitorConfig {
	return func(m *Monitor) {
		m.cmdRunner = r
	}
}

// LocalSession generates a config that sets the startup-established local
// session into Monitor.
func LocalSession(s postgres.Session) MonitorConfig {
	return func(m *Monitor) {
		m.localConn = s
	}
}

// LocalNodeInfo generates a config that sets this node's metadata record into
// Monitor.
func LocalNodeInfo(info postgres.NodeInfo) MonitorConfig {
	return func(m *Monitor) {
		m.localNodeInfo = info
	}
}
