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

import (
	"errors"
	"time"
)

// NodeStatus is a node's reachability as seen by the connector.
type NodeStatus int

const (
	NodeStatusUnknown NodeStatus = iota
	NodeStatusUp
	NodeStatusDown
)

// RecoveryType reports whether an instance is serving as primary or standby.
type RecoveryType int

const (
	RecoveryTypeUnknown RecoveryType = iota
	RecoveryTypePrimary
	RecoveryTypeStandby
)

// ErrNodeRecordNotFound is returned when the metadata table has no record
// for the requested node ID.
var ErrNodeRecordNotFound = errors.New("node record not found")

// Session is an open connection to one cluster member, carrying both the
// metadata-table API and the RPC-shaped election operations (each a single
// database round trip against that member).
type Session interface {
	// NodeRecord fetches the metadata record of the given node.
	NodeRecord(nodeID int) (*NodeInfo, error)
	// NodeRecords fetches all registered node records, ordered by node ID.
	NodeRecords() ([]*NodeInfo, error)
	// ActiveSiblingNodeRecords fetches all active nodes attached to the
	// given upstream, excluding selfID.
	ActiveSiblingNodeRecords(selfID, upstreamID int) (*NodeInfoList, error)

	// VotingStatus reads the node's current voting flag.
	VotingStatus() (VotingStatus, error)
	// SetVotingStatusInitiated marks the node as candidate and returns the
	// newly allocated electoral term.
	SetVotingStatusInitiated() (int, error)
	// ResetVotingStatus returns the voting flag to NO VOTE.
	ResetVotingStatus() error

	// LastWALReceiveLSN reads the node's replication progress marker.
	LastWALReceiveLSN() (LSN, error)
	// RecoveryType reports whether the connected instance is a primary or
	// a standby.
	RecoveryType() RecoveryType

	// AnnounceCandidature tells the node that candidateID is standing for
	// election in the given term. The node refuses iff it is itself a
	// candidate with a term at least as recent.
	AnnounceCandidature(candidateID, term int) (bool, error)
	// RequestVote asks the node to vote for candidateID in the given term.
	// The node reports its own WAL receive position through the same round
	// trip so the candidate can learn whether any peer is ahead.
	RequestVote(candidateID int, candidateLSN LSN, term int) (granted bool, peerLSN LSN, err error)
	// NotifyFollowPrimary writes the follow-primary directive into the
	// node's metadata; the node's monitor loop picks it up via NewPrimary.
	NotifyFollowPrimary(primaryID int) error
	// NewPrimary polls the local follow-primary directive.
	NewPrimary() (bool, int, error)

	// CreateEventRecord appends a row to the audit event table.
	CreateEventRecord(nodeID int, event string, successful bool, details string) error

	Ping() error
	ConnInfo() string
	Close() error
}

// Connector opens sessions to cluster members.
type Connector interface {
	// IsAvailable is a cheap reachability probe; it never leaves a
	// session open.
	IsAvailable(conninfo string) bool
	// Connect opens a session to the node at conninfo.
	Connect(conninfo string) (Session, error)
	// TryReconnect probes reachability up to attempts times, sleeping
	// interval between probes, then opens a session. The retry budget is
	// bounded here; the caller decides failover after NodeStatusDown is
	// returned, never inside.
	TryReconnect(conninfo string, attempts int, interval time.Duration) (Session, NodeStatus)
	// PrimaryConnection walks the node records readable through local and
	// connects to whichever member currently reports itself primary.
	PrimaryConnection(local Session) (Session, int, error)
}
