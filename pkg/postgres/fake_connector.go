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
	"fmt"
	"sort"
	"sync"
	"time"
)

// FakeEvent is an audit event recorded against a fake node.
type FakeEvent struct {
	NodeID     int
	Event      string
	Successful bool
	Details    string
}

// FakeNode is one member of the fake cluster.
type FakeNode struct {
	Info      NodeInfo
	Reachable bool
	Recovery  RecoveryType
	LSN       LSN

	VotingStatus  VotingStatus
	CurrentTerm   int
	lastVotedTerm int

	hasNewPrimary bool
	newPrimaryID  int

	Events []FakeEvent
	// FollowNotifications records every follow-primary directive delivered
	// to this node, in arrival order.
	FollowNotifications []int
}

// FakeConnector simulates a whole cluster in memory, for testing the election
// and failover logic without a database.
type FakeConnector struct {
	mu           sync.Mutex
	nodes        map[string]*FakeNode
	nextTerm     int
	openSessions map[*FakeSession]struct{}
}

var _ Connector = &FakeConnector{}

func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		nodes:        make(map[string]*FakeNode),
		openSessions: make(map[*FakeSession]struct{}),
	}
}

// AddNode registers a reachable member in the fake cluster.
func (c *FakeConnector) AddNode(info NodeInfo, lsn LSN, recovery RecoveryType) *FakeNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	node := &FakeNode{
		Info:      info,
		Reachable: true,
		Recovery:  recovery,
		LSN:       lsn,
	}
	c.nodes[info.ConnInfo] = node
	return node
}

// Node looks a member up by node ID.
func (c *FakeConnector) Node(nodeID int) *FakeNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.nodes {
		if node.Info.NodeID == nodeID {
			return node
		}
	}

	return nil
}

// SetReachable flips a member's reachability.
func (c *FakeConnector) SetReachable(nodeID int, reachable bool) {
	node := c.Node(nodeID)

	c.mu.Lock()
	defer c.mu.Unlock()
	node.Reachable = reachable
}

// OpenSessionCount reports how many fake sessions are currently open.
func (c *FakeConnector) OpenSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.openSessions)
}

// IsAvailable implements Connector
func (c *FakeConnector) IsAvailable(conninfo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[conninfo]
	return ok && node.Reachable
}

// Connect implements Connector
func (c *FakeConnector) Connect(conninfo string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[conninfo]
	if !ok || !node.Reachable {
		return nil, fmt.Errorf("failed to connect to %q", conninfo)
	}

	sess := &FakeSession{connector: c, node: node}
	c.openSessions[sess] = struct{}{}
	return sess, nil
}

// TryReconnect implements Connector
func (c *FakeConnector) TryReconnect(conninfo string, attempts int, interval time.Duration) (Session, NodeStatus) {
	for i := 0; i < attempts; i++ {
		if c.IsAvailable(conninfo) {
			sess, err := c.Connect(conninfo)
			if err == nil {
				return sess, NodeStatusUp
			}
		}

		if i < attempts-1 {
			time.Sleep(interval)
		}
	}

	return nil, NodeStatusDown
}

// PrimaryConnection implements Connector
func (c *FakeConnector) PrimaryConnection(local Session) (Session, int, error) {
	return primaryConnection(c, local)
}

// FakeSession is an open session against a fake node.
type FakeSession struct {
	connector *FakeConnector
	node      *FakeNode
	closed    bool
}

var _ Session = &FakeSession{}

func (s *FakeSession) alive() error {
	if s.closed {
		return fmt.Errorf("session to %q is closed", s.node.Info.ConnInfo)
	}
	if !s.node.Reachable {
		return fmt.Errorf("connection to %q lost", s.node.Info.ConnInfo)
	}

	return nil
}

func (s *FakeSession) sortedRecords() []*FakeNode {
	records := make([]*FakeNode, 0, len(s.connector.nodes))
	for _, node := range s.connector.nodes {
		records = append(records, node)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Info.NodeID < records[j].Info.NodeID
	})

	return records
}

// NodeRecord implements Session
func (s *FakeSession) NodeRecord(nodeID int) (*NodeInfo, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return nil, err
	}

	for _, node := range s.connector.nodes {
		if node.Info.NodeID == nodeID {
			record := node.Info
			return &record, nil
		}
	}

	return nil, ErrNodeRecordNotFound
}

// NodeRecords implements Session
func (s *FakeSession) NodeRecords() ([]*NodeInfo, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return nil, err
	}

	records := make([]*NodeInfo, 0, len(s.connector.nodes))
	for _, node := range s.sortedRecords() {
		record := node.Info
		records = append(records, &record)
	}

	return records, nil
}

// ActiveSiblingNodeRecords implements Session
func (s *FakeSession) ActiveSiblingNodeRecords(selfID, upstreamID int) (*NodeInfoList, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return nil, err
	}

	list := NewNodeInfoList()
	for _, node := range s.sortedRecords() {
		if !node.Info.Active || node.Info.UpstreamNodeID != upstreamID || node.Info.NodeID == selfID {
			continue
		}

		record := node.Info
		list.Nodes = append(list.Nodes, &record)
	}

	return list, nil
}

// VotingStatus implements Session
func (s *FakeSession) VotingStatus() (VotingStatus, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return VotingStatusUnknown, err
	}

	return s.node.VotingStatus, nil
}

// SetVotingStatusInitiated implements Session
func (s *FakeSession) SetVotingStatusInitiated() (int, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return 0, err
	}

	s.connector.nextTerm++
	s.node.VotingStatus = VotingStatusVoteInitiated
	s.node.CurrentTerm = s.connector.nextTerm
	return s.node.CurrentTerm, nil
}

// ResetVotingStatus implements Session
func (s *FakeSession) ResetVotingStatus() error {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return err
	}

	s.node.VotingStatus = VotingStatusNoVote
	return nil
}

// LastWALReceiveLSN implements Session
func (s *FakeSession) LastWALReceiveLSN() (LSN, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return InvalidLSN, err
	}

	return s.node.LSN, nil
}

// RecoveryType implements Session
func (s *FakeSession) RecoveryType() RecoveryType {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return RecoveryTypeUnknown
	}

	return s.node.Recovery
}

// AnnounceCandidature implements Session
func (s *FakeSession) AnnounceCandidature(candidateID, term int) (bool, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return false, err
	}

	if s.node.VotingStatus == VotingStatusVoteInitiated && s.node.CurrentTerm >= term {
		return false, nil
	}

	return true, nil
}

// RequestVote implements Session
func (s *FakeSession) RequestVote(candidateID int, candidateLSN LSN, term int) (bool, LSN, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return false, InvalidLSN, err
	}

	granted := false
	if s.node.VotingStatus != VotingStatusVoteInitiated &&
		term > s.node.lastVotedTerm &&
		candidateLSN >= s.node.LSN {
		granted = true
		s.node.lastVotedTerm = term
	}

	if s.node.VotingStatus == VotingStatusNoVote {
		s.node.VotingStatus = VotingStatusVoteRequestReceived
	}

	return granted, s.node.LSN, nil
}

// NotifyFollowPrimary implements Session
func (s *FakeSession) NotifyFollowPrimary(primaryID int) error {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return err
	}

	s.node.hasNewPrimary = true
	s.node.newPrimaryID = primaryID
	s.node.FollowNotifications = append(s.node.FollowNotifications, primaryID)
	return nil
}

// NewPrimary implements Session. The directive is consumed on a successful
// read so a stale notification does not leak into a later episode.
func (s *FakeSession) NewPrimary() (bool, int, error) {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return false, 0, err
	}

	if !s.node.hasNewPrimary {
		return false, 0, nil
	}

	s.node.hasNewPrimary = false
	return true, s.node.newPrimaryID, nil
}

// CreateEventRecord implements Session
func (s *FakeSession) CreateEventRecord(nodeID int, event string, successful bool, details string) error {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	if err := s.alive(); err != nil {
		return err
	}

	s.node.Events = append(s.node.Events, FakeEvent{
		NodeID:     nodeID,
		Event:      event,
		Successful: successful,
		Details:    details,
	})
	return nil
}

// Ping implements Session
func (s *FakeSession) Ping() error {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	return s.alive()
}

// ConnInfo implements Session
func (s *FakeSession) ConnInfo() string {
	return s.node.Info.ConnInfo
}

// Close implements Session
func (s *FakeSession) Close() error {
	s.connector.mu.Lock()
	defer s.connector.mu.Unlock()

	s.closed = true
	delete(s.connector.openSessions, s)
	return nil
}
