package backend

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// parityCase pairs a statement in our surface grammar with its SQLite
// equivalent, so query semantics can be checked against a real engine.
type parityCase struct {
	name   string
	ours   string
	sqlite string
}

func (s *BackendTestSuite) TestSQLiteParity() {
	db, err := sql.Open("sqlite3", ":memory:")
	s.Require().NoError(err)
	defer db.Close()

	_, err = db.Exec("create table users (id integer primary key, username text, email text)")
	s.Require().NoError(err)

	for i := 1; i <= 20; i++ {
		s.mustExec(fmt.Sprintf("insert %d user%d user%d@example.com", i, i, i))
		_, err = db.Exec("insert into users (id, username, email) values (?, ?, ?)",
			i, fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i))
		s.Require().NoError(err)
	}

	cases := []parityCase{
		{"full scan", "select", "select id, username, email from users order by id"},
		{"point lookup", "select where id = 7", "select id, username, email from users where id = 7 order by id"},
		{"range", "select where id > 15", "select id, username, email from users where id > 15 order by id"},
		{"by username", "select where username = user3", "select id, username, email from users where username = 'user3' order by id"},
		{"compound", "select where (id < 3 or id > 17) and username != user19",
			"select id, username, email from users where (id < 3 or id > 17) and username <> 'user19' order by id"},
	}

	for _, tc := range cases {
		ours := s.query(tc.ours)

		rows, err := db.Query(tc.sqlite)
		s.Require().NoError(err, tc.name)

		var want []struct {
			id              int
			username, email string
		}
		for rows.Next() {
			var r struct {
				id              int
				username, email string
			}
			s.Require().NoError(rows.Scan(&r.id, &r.username, &r.email))
			want = append(want, r)
		}
		s.Require().NoError(rows.Err())
		rows.Close()

		s.Require().Len(ours, len(want), tc.name)
		for i := range want {
			s.Equal(uint32(want[i].id), ours[i].ID, tc.name)
			s.Equal(want[i].username, ours[i].UsernameString(), tc.name)
			s.Equal(want[i].email, ours[i].EmailString(), tc.name)
		}
	}
}
