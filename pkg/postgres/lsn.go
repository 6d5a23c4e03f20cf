package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a position in the WAL stream, compared numerically to rank
// replication freshness.
type LSN uint64

// InvalidLSN marks an LSN that has not been read yet.
const InvalidLSN LSN = 0

// ParseLSN parses the PostgreSQL textual LSN representation, e.g. "16/B374D848".
func ParseLSN(s string) (LSN, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return InvalidLSN, fmt.Errorf("invalid LSN %q", s)
	}

	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return InvalidLSN, fmt.Errorf("invalid LSN %q: %w", s, err)
	}

	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return InvalidLSN, fmt.Errorf("invalid LSN %q: %w", s, err)
	}

	return LSN(hi<<32 | lo), nil
}

func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}
