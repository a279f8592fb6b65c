package backend

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/paulboul1013/tinytable/tsql"
)

// defaultStatementCacheSize bounds the prepared-statement cache when the
// configuration does not say otherwise.
const defaultStatementCacheSize = 1024

// Session wraps a table with a prepared-statement cache so repeated
// inputs skip the parser. Statements are immutable once parsed, which
// makes sharing them across executions safe.
type Session struct {
	table *Table
	cache *ristretto.Cache[string, *tsql.Statement]
}

// NewSession creates a session over table. cacheSize caps the number of
// cached statements; zero or negative selects the default.
func NewSession(table *Table, cacheSize int64) (*Session, error) {
	if cacheSize <= 0 {
		cacheSize = defaultStatementCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *tsql.Statement]{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Session{table: table, cache: cache}, nil
}

// Table returns the underlying table.
func (s *Session) Table() *Table {
	return s.table
}

// Prepare parses input, consulting the statement cache first.
func (s *Session) Prepare(input string) (*tsql.Statement, error) {
	if stmt, ok := s.cache.Get(input); ok {
		return stmt, nil
	}
	stmt, err := tsql.Parse(input)
	if err != nil {
		return nil, err
	}
	s.cache.Set(input, stmt, 1)
	return stmt, nil
}

// Exec prepares and executes one statement.
func (s *Session) Exec(input string) (*Rows, error) {
	stmt, err := s.Prepare(input)
	if err != nil {
		return nil, err
	}
	return s.table.Execute(stmt)
}

// Close releases the statement cache. The table is closed separately.
func (s *Session) Close() {
	s.cache.Close()
}
