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

package postgres

// NodeType classifies a registered cluster member.
type NodeType string

const (
	NodePrimary NodeType = "primary"
	NodeStandby NodeType = "standby"
	NodeWitness NodeType = "witness"
	NodeBDR     NodeType = "bdr"
	NodeUnknown NodeType = "unknown"
)

// ParseNodeType maps the metadata table's type column to a NodeType.
func ParseNodeType(s string) NodeType {
	switch s {
	case "primary":
		return NodePrimary
	case "standby":
		return NodeStandby
	case "witness":
		return NodeWitness
	case "bdr":
		return NodeBDR
	}

	return NodeUnknown
}

// NodeInfo is the metadata record of one cluster member.
type NodeInfo struct {
	NodeID         int
	NodeName       string
	ConnInfo       string
	Type           NodeType
	UpstreamNodeID int
	Priority       int
	Active         bool

	// transient fields populated during an election round; never persisted.

	// LastWALReceiveLSN is the node's replication progress as reported
	// during the current election.
	LastWALReceiveLSN LSN
	// IsVisible records whether the candidate reached this node during
	// the current election.
	IsVisible bool
	// Conn is an ephemeral session to the node, owned by the enclosing
	// election or notification round.
	Conn Session
}

// NodeInfoList is the sibling set gathered for an election or notification
// round: all active standbys sharing the same upstream, excluding self.
type NodeInfoList struct {
	Nodes []*NodeInfo
}

func NewNodeInfoList() *NodeInfoList {
	return &NodeInfoList{Nodes: make([]*NodeInfo, 0)}
}

func (l *NodeInfoList) Len() int {
	return len(l.Nodes)
}

// Clear closes any session still held by a list member and empties the list.
// Every exit path from an election or notification round releases its
// sessions through here.
func (l *NodeInfoList) Clear() {
	for _, node := range l.Nodes {
		if node.Conn != nil {
			node.Conn.Close()
			node.Conn = nil
		}
	}

	l.Nodes = l.Nodes[:0]
}
