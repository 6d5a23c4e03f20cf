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
	"math/rand"
	"time"

	"github.com/dbonne/repmgr/pkg/postgres"
)

// ElectionResult is the verdict of one election round.
type ElectionResult string

const (
	ElectionWon          ElectionResult = "won"
	ElectionLost         ElectionResult = "lost"
	ElectionNotCandidate ElectionResult = "not-candidate"
)

// doElection runs the leader-election protocol against the sibling standbys
// after the upstream has been declared down.
//
// The candidate wins only with a unanimous vote from every peer it could
// reach, itself included. A candidate that discovers another candidate with a
// term at least as recent withdraws.
func (m *Monitor) doElection() ElectionResult {
	// decorrelate peers that detected the failure simultaneously
	jitter := time.Duration(rand.Intn(401)+100) * time.Millisecond
	m.Logger.Debug("election: sleeping before claiming candidacy", "jitter", jitter)
	time.Sleep(jitter)

	m.localNodeInfo.LastWALReceiveLSN = postgres.InvalidLSN

	if m.localConn == nil {
		m.Logger.Error("cannot run election, local connection not available")
		return m.finishElection(ElectionNotCandidate)
	}

	votingStatus, err := m.localConn.VotingStatus()
	if err != nil {
		m.Logger.Error("unable to determine voting status", "error", err)
		return m.finishElection(ElectionNotCandidate)
	}
	m.Logger.Debug("election: voting status", "status", votingStatus.String())

	if votingStatus == postgres.VotingStatusVoteRequestReceived {
		// another candidate got to this node first
		m.Logger.Debug("election: vote request already received, not candidate")
		return m.finishElection(ElectionNotCandidate)
	}

	// Mark ourselves as candidate so further vote requests are rejected.
	// Another node may have done the same; the announce phase below detects
	// that and withdraws our candidature.
	electoralTerm, err := m.localConn.SetVotingStatusInitiated()
	if err != nil {
		m.Logger.Error("unable to initiate voting", "error", err)
		return m.finishElection(ElectionNotCandidate)
	}
	m.Logger.Debug("election: candidacy claimed", "electoral_term", electoralTerm)

	m.standbyNodes.Clear()
	siblings, err := m.localConn.ActiveSiblingNodeRecords(m.localNodeInfo.NodeID, m.upstreamNodeInfo.NodeID)
	if err != nil {
		m.Logger.Error("unable to fetch sibling node records", "error", err)
		m.withdrawCandidature()
		return m.finishElection(ElectionNotCandidate)
	}
	m.standbyNodes = siblings

	// no other standbys - win by default
	if m.standbyNodes.Len() == 0 {
		m.Logger.Debug("election: no other nodes, win by default")
		return m.finishElection(ElectionWon)
	}

	// we're visible
	visibleNodes := 1
	otherNodeIsCandidate := false

	for _, node := range m.standbyNodes.Nodes {
		node.IsVisible = false

		sess, err := m.connector.Connect(node.ConnInfo)
		if err != nil {
			continue
		}
		node.Conn = sess

		accepted, err := sess.AnnounceCandidature(m.localNodeInfo.NodeID, electoralTerm)
		if err != nil {
			m.Logger.Debug("election: announce failed, treating node as unreachable",
				"node_id", node.NodeID, "error", err)
			continue
		}

		if !accepted {
			m.Logger.Debug("election: node is itself a candidate", "node_id", node.NodeID)
			otherNodeIsCandidate = true
			break
		}

		node.IsVisible = true
		visibleNodes++
	}

	if otherNodeIsCandidate {
		m.standbyNodes.Clear()
		m.withdrawCandidature()
		return m.finishElection(ElectionNotCandidate)
	}

	lsn, err := m.localConn.LastWALReceiveLSN()
	if err != nil {
		m.Logger.Warn("unable to determine last WAL receive location", "error", err)
	}
	m.localNodeInfo.LastWALReceiveLSN = lsn
	m.Logger.Debug("election: last WAL receive location", "lsn", lsn.String())

	votesForMe := 0
	otherNodeIsAhead := false

	for _, node := range m.standbyNodes.Nodes {
		if !node.IsVisible {
			continue
		}

		granted, peerLSN, err := node.Conn.RequestVote(
			m.localNodeInfo.NodeID,
			m.localNodeInfo.LastWALReceiveLSN,
			electoralTerm,
		)
		if err != nil {
			m.Logger.Debug("election: vote request failed", "node_id", node.NodeID, "error", err)
		} else if granted {
			votesForMe++
		}

		node.LastWALReceiveLSN = peerLSN
		if peerLSN > m.localNodeInfo.LastWALReceiveLSN {
			otherNodeIsAhead = true
		}

		node.Conn.Close()
		node.Conn = nil
	}

	// vote for myself, but only if no peer is known to be ahead
	if !otherNodeIsAhead {
		votesForMe++
	}

	m.Logger.Info("election: vote tally", "votes_for_me", votesForMe, "visible_nodes", visibleNodes)

	if votesForMe == visibleNodes {
		return m.finishElection(ElectionWon)
	}

	m.withdrawCandidature()
	return m.finishElection(ElectionLost)
}

// withdrawCandidature returns the voting flag to NO VOTE on a non-winning
// exit, so this node can grant votes in a follow-up election round.
func (m *Monitor) withdrawCandidature() {
	if m.localConn == nil {
		return
	}

	if err := m.localConn.ResetVotingStatus(); err != nil {
		m.Logger.Warn("unable to withdraw candidature", "error", err)
	}
}

func (m *Monitor) finishElection(result ElectionResult) ElectionResult {
	ElectionCounterVec.WithLabelValues(string(result)).Inc()
	return result
}

// pollBestCandidate picks the sibling (or self) with the highest recorded WAL
// receive position, breaking ties by priority and then by lowest node ID.
// Nodes that ran the same election record the same inputs, so they all reach
// the same conclusion.
func pollBestCandidate(self *postgres.NodeInfo, standbyNodes *postgres.NodeInfoList) *postgres.NodeInfo {
	bestCandidate := self

	for _, node := range standbyNodes.Nodes {
		switch {
		case node.LastWALReceiveLSN > bestCandidate.LastWALReceiveLSN:
			bestCandidate = node
		case node.LastWALReceiveLSN == bestCandidate.LastWALReceiveLSN &&
			node.Priority > bestCandidate.Priority:
			bestCandidate = node
		case node.LastWALReceiveLSN == bestCandidate.LastWALReceiveLSN &&
			node.Priority == bestCandidate.Priority &&
			node.NodeID < bestCandidate.NodeID:
			bestCandidate = node
		}
	}

	return bestCandidate
}

// refreshStandbyNodes repopulates the sibling set from the metadata table,
// releasing any sessions held by the previous round. When preserveLSNs is
// set, the WAL positions recorded during the election survive the refresh so
// the best-candidate poll still ranks by replication progress.
func (m *Monitor) refreshStandbyNodes(preserveLSNs bool) {
	recorded := make(map[int]postgres.LSN)
	if preserveLSNs {
		for _, node := range m.standbyNodes.Nodes {
			recorded[node.NodeID] = node.LastWALReceiveLSN
		}
	}

	m.standbyNodes.Clear()

	if m.localConn == nil {
		return
	}

	siblings, err := m.localConn.ActiveSiblingNodeRecords(m.localNodeInfo.NodeID, m.upstreamNodeInfo.NodeID)
	if err != nil {
		m.Logger.Warn("unable to refresh sibling node records", "error", err)
		return
	}

	m.standbyNodes = siblings
	for _, node := range m.standbyNodes.Nodes {
		if lsn, ok := recorded[node.NodeID]; ok {
			node.LastWALReceiveLSN = lsn
		}
	}
}
