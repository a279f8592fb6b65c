package backend

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulboul1013/tinytable/internal/storage"
)

// statsHashSlots sizes the presence bitmaps used to approximate field
// cardinalities during a full scan.
const statsHashSlots = 1024

// Statistics holds advisory cardinality estimates for the planner. They
// are maintained incrementally on insert and delete and rebuilt by
// Analyze; absence only degrades plan quality, never correctness. They
// live for the process only — the file format has no room for them.
type Statistics struct {
	TotalRows           uint32
	IDMin               uint32
	IDMax               uint32
	IDCardinality       uint32
	UsernameCardinality uint32
	EmailCardinality    uint32
	Valid               bool
}

// Reset clears the statistics and marks them invalid.
func (s *Statistics) Reset() {
	s.TotalRows = 0
	s.IDMin = math.MaxUint32
	s.IDMax = 0
	s.IDCardinality = 0
	s.UsernameCardinality = 0
	s.EmailCardinality = 0
	s.Valid = false
}

// noteInsert folds a newly inserted row into the estimates. The id
// cardinality is raised to the row count, assuming each insert adds a
// distinct id; the username and email cardinalities are left unchanged.
func (s *Statistics) noteInsert(row *storage.Row) {
	s.TotalRows++
	if row.ID < s.IDMin {
		s.IDMin = row.ID
	}
	if row.ID > s.IDMax {
		s.IDMax = row.ID
	}
	if s.IDCardinality < s.TotalRows {
		s.IDCardinality = s.TotalRows
	}
	s.Valid = true
}

// noteDelete adjusts the estimates after a row removal. The id range is
// left stale until Analyze recomputes it; removing the last row resets
// the statistics entirely.
func (s *Statistics) noteDelete() {
	if s.TotalRows == 0 {
		return
	}
	s.TotalRows--
	if s.TotalRows == 0 {
		s.Reset()
		return
	}
	if s.IDCardinality > s.TotalRows {
		s.IDCardinality = s.TotalRows
	}
}

func (s *Statistics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Total rows: %d\n", s.TotalRows)
	fmt.Fprintf(&b, "  ID range: %d - %d\n", s.IDMin, s.IDMax)
	fmt.Fprintf(&b, "  ID cardinality: %d\n", s.IDCardinality)
	fmt.Fprintf(&b, "  Username cardinality: %d\n", s.UsernameCardinality)
	fmt.Fprintf(&b, "  Email cardinality: %d", s.EmailCardinality)
	return b.String()
}

// Analyze rebuilds the statistics with a full scan. Cardinalities are
// approximated by hashed presence in fixed-size bitmaps: a rolling *31
// hash over the string fields, id mod the slot count for the key.
func (t *Table) Analyze() error {
	var s Statistics
	s.Reset()

	var idSeen, usernameSeen, emailSeen [statsHashSlots]bool

	cursor, err := t.tree.Start()
	if err != nil {
		return err
	}

	for !cursor.EndOfTable {
		row, err := cursor.Row()
		if err != nil {
			return err
		}

		s.TotalRows++
		if row.ID < s.IDMin {
			s.IDMin = row.ID
		}
		if row.ID > s.IDMax {
			s.IDMax = row.ID
		}

		if h := stringHash(row.Username[:]); !usernameSeen[h] {
			usernameSeen[h] = true
			s.UsernameCardinality++
		}
		if h := stringHash(row.Email[:]); !emailSeen[h] {
			emailSeen[h] = true
			s.EmailCardinality++
		}
		if h := row.ID % statsHashSlots; !idSeen[h] {
			idSeen[h] = true
			s.IDCardinality++
		}

		if err := cursor.Advance(); err != nil {
			return err
		}
	}

	s.Valid = true
	if s.TotalRows == 0 {
		s.IDMin = math.MaxUint32
		s.IDMax = 0
	}

	*t.stats = s
	t.log.WithField("rows", s.TotalRows).Debug("statistics collected")
	return nil
}

// stringHash rolls over b up to its first NUL.
func stringHash(b []byte) uint32 {
	h := uint32(0)
	for _, c := range b {
		if c == 0 {
			break
		}
		h = (h*31 + uint32(c)) % statsHashSlots
	}
	return h
}
