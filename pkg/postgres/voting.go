package postgres

// VotingStatus is the per-node election flag persisted in the metadata
// database. It acts as a mutex between the candidate and voter roles: a node
// that has received a vote request cannot become a candidate, and a node that
// has initiated voting cannot vote for another candidate.
type VotingStatus int

const (
	VotingStatusNoVote VotingStatus = iota
	VotingStatusVoteRequestReceived
	VotingStatusVoteInitiated
	VotingStatusUnknown
)

func (v VotingStatus) String() string {
	switch v {
	case VotingStatusNoVote:
		return "NO VOTE"
	case VotingStatusVoteRequestReceived:
		return "VOTE REQUEST RECEIVED"
	case VotingStatusVoteInitiated:
		return "VOTE INITIATED"
	}

	return "UNKNOWN"
}
