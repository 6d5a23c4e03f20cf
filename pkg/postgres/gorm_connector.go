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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDefaultConnector returns a Connector backed by gorm's postgres driver.
// connectTimeout bounds session establishment against unreachable peers.
func NewDefaultConnector(logger *slog.Logger, connectTimeout time.Duration) Connector {
	return &GormConnector{Logger: logger, ConnectTimeout: connectTimeout}
}

// GormConnector is the default Connector implementation.
type GormConnector struct {
	Logger         *slog.Logger
	ConnectTimeout time.Duration
}

// IsAvailable implements Connector
func (c *GormConnector) IsAvailable(conninfo string) bool {
	sess, err := c.Connect(conninfo)
	if err != nil {
		return false
	}
	defer sess.Close()

	return sess.Ping() == nil
}

// Connect implements Connector
func (c *GormConnector) Connect(conninfo string) (Session, error) {
	dsn := conninfo
	if c.ConnectTimeout > 0 && !strings.Contains(dsn, "connect_timeout") {
		dsn = fmt.Sprintf("%s connect_timeout=%d", dsn, int(c.ConnectTimeout.Seconds()))
	}

	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", conninfo, err)
	}

	sess := &gormSession{db: db, conninfo: conninfo, logger: c.Logger}
	if err := sess.Ping(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to connect to %q: %w", conninfo, err)
	}

	return sess, nil
}

// TryReconnect implements Connector
func (c *GormConnector) TryReconnect(conninfo string, attempts int, interval time.Duration) (Session, NodeStatus) {
	for i := 0; i < attempts; i++ {
		if c.IsAvailable(conninfo) {
			sess, err := c.Connect(conninfo)
			if err == nil {
				c.Logger.Info("reconnected", "conninfo", conninfo, "attempt", i+1)
				return sess, NodeStatusUp
			}
		}

		c.Logger.Info("reconnect attempt failed", "conninfo", conninfo, "attempt", i+1, "max_attempts", attempts)

		if i < attempts-1 {
			time.Sleep(interval)
		}
	}

	return nil, NodeStatusDown
}

// PrimaryConnection implements Connector
func (c *GormConnector) PrimaryConnection(local Session) (Session, int, error) {
	return primaryConnection(c, local)
}

// primaryConnection walks the node records visible through local and probes
// each member until one reports itself primary. Shared by the default and
// fake connectors.
func primaryConnection(c Connector, local Session) (Session, int, error) {
	records, err := local.NodeRecords()
	if err != nil {
		return nil, 0, err
	}

	for _, record := range records {
		if !record.Active {
			continue
		}

		sess, err := c.Connect(record.ConnInfo)
		if err != nil {
			continue
		}

		if sess.RecoveryType() == RecoveryTypePrimary {
			return sess, record.NodeID, nil
		}

		sess.Close()
	}

	return nil, 0, errors.New("no primary found")
}

type gormSession struct {
	db       *gorm.DB
	conninfo string
	logger   *slog.Logger
}

const nodeRecordColumns = "node_id, node_name, conninfo, type, upstream_node_id, priority, active"

func (s *gormSession) scanNodeRecord(row *sql.Row) (*NodeInfo, error) {
	var (
		node     NodeInfo
		nodeType string
		upstream sql.NullInt64
	)

	err := row.Scan(&node.NodeID, &node.NodeName, &node.ConnInfo, &nodeType, &upstream, &node.Priority, &node.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeRecordNotFound
		}
		return nil, err
	}

	node.Type = ParseNodeType(nodeType)
	node.UpstreamNodeID = int(upstream.Int64)
	return &node, nil
}

// NodeRecord implements Session
func (s *gormSession) NodeRecord(nodeID int) (*NodeInfo, error) {
	row := s.db.Raw(
		fmt.Sprintf("SELECT %s FROM repmgr.nodes WHERE node_id = ?", nodeRecordColumns),
		nodeID,
	).Row()

	return s.scanNodeRecord(row)
}

// NodeRecords implements Session
func (s *gormSession) NodeRecords() ([]*NodeInfo, error) {
	rows, err := s.db.Raw(
		fmt.Sprintf("SELECT %s FROM repmgr.nodes ORDER BY node_id", nodeRecordColumns),
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node records: %w", err)
	}
	defer rows.Close()

	records := make([]*NodeInfo, 0)
	for rows.Next() {
		var (
			node     NodeInfo
			nodeType string
			upstream sql.NullInt64
		)
		if err := rows.Scan(&node.NodeID, &node.NodeName, &node.ConnInfo, &nodeType, &upstream, &node.Priority, &node.Active); err != nil {
			return nil, err
		}
		node.Type = ParseNodeType(nodeType)
		node.UpstreamNodeID = int(upstream.Int64)
		records = append(records, &node)
	}

	return records, rows.Err()
}

// ActiveSiblingNodeRecords implements Session
func (s *gormSession) ActiveSiblingNodeRecords(selfID, upstreamID int) (*NodeInfoList, error) {
	rows, err := s.db.Raw(
		fmt.Sprintf("SELECT %s FROM repmgr.nodes WHERE upstream_node_id = ? AND node_id != ? AND active IS TRUE ORDER BY node_id", nodeRecordColumns),
		upstreamID, selfID,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sibling node records: %w", err)
	}
	defer rows.Close()

	list := NewNodeInfoList()
	for rows.Next() {
		var (
			node     NodeInfo
			nodeType string
			upstream sql.NullInt64
		)
		if err := rows.Scan(&node.NodeID, &node.NodeName, &node.ConnInfo, &nodeType, &upstream, &node.Priority, &node.Active); err != nil {
			return nil, err
		}
		node.Type = ParseNodeType(nodeType)
		node.UpstreamNodeID = int(upstream.Int64)
		list.Nodes = append(list.Nodes, &node)
	}

	return list, rows.Err()
}

// VotingStatus implements Session
func (s *gormSession) VotingStatus() (VotingStatus, error) {
	var status int
	if err := s.db.Raw("SELECT repmgr.get_voting_status()").Row().Scan(&status); err != nil {
		return VotingStatusUnknown, fmt.Errorf("failed to get voting status: %w", err)
	}

	if status < int(VotingStatusNoVote) || status > int(VotingStatusVoteInitiated) {
		return VotingStatusUnknown, nil
	}

	return VotingStatus(status), nil
}

// SetVotingStatusInitiated implements Session
func (s *gormSession) SetVotingStatusInitiated() (int, error) {
	var term int
	if err := s.db.Raw("SELECT repmgr.set_voting_status_initiated()").Row().Scan(&term); err != nil {
		return 0, fmt.Errorf("failed to initiate voting: %w", err)
	}

	return term, nil
}

// ResetVotingStatus implements Session
func (s *gormSession) ResetVotingStatus() error {
	if err := s.db.Exec("SELECT repmgr.reset_voting_status()").Error; err != nil {
		return fmt.Errorf("failed to reset voting status: %w", err)
	}

	return nil
}

// LastWALReceiveLSN implements Session
func (s *gormSession) LastWALReceiveLSN() (LSN, error) {
	var lsn sql.NullString
	if err := s.db.Raw("SELECT pg_catalog.pg_last_wal_receive_lsn()::text").Row().Scan(&lsn); err != nil {
		return InvalidLSN, fmt.Errorf("failed to get last WAL receive location: %w", err)
	}

	if !lsn.Valid {
		return InvalidLSN, nil
	}

	return ParseLSN(lsn.String)
}

// RecoveryType implements Session
func (s *gormSession) RecoveryType() RecoveryType {
	var inRecovery bool
	if err := s.db.Raw("SELECT pg_catalog.pg_is_in_recovery()").Row().Scan(&inRecovery); err != nil {
		s.logger.Debug("failed to get recovery type", "conninfo", s.conninfo, "error", err)
		return RecoveryTypeUnknown
	}

	if inRecovery {
		return RecoveryTypeStandby
	}

	return RecoveryTypePrimary
}

// AnnounceCandidature implements Session
func (s *gormSession) AnnounceCandidature(candidateID, term int) (bool, error) {
	var accepted bool
	if err := s.db.Raw("SELECT repmgr.announce_candidature(?, ?)", candidateID, term).Row().Scan(&accepted); err != nil {
		return false, fmt.Errorf("failed to announce candidature to %q: %w", s.conninfo, err)
	}

	return accepted, nil
}

// RequestVote implements Session
func (s *gormSession) RequestVote(candidateID int, candidateLSN LSN, term int) (bool, LSN, error) {
	var (
		granted bool
		peerLSN sql.NullString
	)

	row := s.db.Raw(
		"SELECT vote_granted, last_wal_receive_lsn::text FROM repmgr.request_vote(?, ?::pg_lsn, ?)",
		candidateID, candidateLSN.String(), term,
	).Row()
	if err := row.Scan(&granted, &peerLSN); err != nil {
		return false, InvalidLSN, fmt.Errorf("failed to request vote from %q: %w", s.conninfo, err)
	}

	lsn := InvalidLSN
	if peerLSN.Valid {
		parsed, err := ParseLSN(peerLSN.String)
		if err != nil {
			return false, InvalidLSN, err
		}
		lsn = parsed
	}

	return granted, lsn, nil
}

// NotifyFollowPrimary implements Session
func (s *gormSession) NotifyFollowPrimary(primaryID int) error {
	if err := s.db.Exec("SELECT repmgr.notify_follow_primary(?)", primaryID).Error; err != nil {
		return fmt.Errorf("failed to notify %q to follow node %d: %w", s.conninfo, primaryID, err)
	}

	return nil
}

// NewPrimary implements Session
func (s *gormSession) NewPrimary() (bool, int, error) {
	var newPrimaryID sql.NullInt64
	if err := s.db.Raw("SELECT repmgr.get_new_primary()").Row().Scan(&newPrimaryID); err != nil {
		return false, 0, fmt.Errorf("failed to poll new primary: %w", err)
	}

	if !newPrimaryID.Valid || newPrimaryID.Int64 <= 0 {
		return false, 0, nil
	}

	return true, int(newPrimaryID.Int64), nil
}

// CreateEventRecord implements Session
func (s *gormSession) CreateEventRecord(nodeID int, event string, successful bool, details string) error {
	err := s.db.Exec(
		"INSERT INTO repmgr.events (node_id, event, successful, details) VALUES (?, ?, ?, ?)",
		nodeID, event, successful, details,
	).Error
	if err != nil {
		return fmt.Errorf("failed to create %q event record: %w", event, err)
	}

	return nil
}

// Ping implements Session
func (s *gormSession) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// ConnInfo implements Session
func (s *gormSession) ConnInfo() string {
	return s.conninfo
}

// Close implements Session
func (s *gormSession) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
