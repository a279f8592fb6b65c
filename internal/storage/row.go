package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Column capacities visible to users. The on-disk buffers carry one extra
// byte so a maximum-length value still ends in a NUL.
const (
	ColumnUsernameSize = 32
	ColumnEmailSize    = 255
)

// Row serialization layout. Fields are laid out back-to-back with no padding.
const (
	IDSize       = 4
	UsernameSize = ColumnUsernameSize + 1
	EmailSize    = ColumnEmailSize + 1

	IDOffset       = 0
	UsernameOffset = IDOffset + IDSize
	EmailOffset    = UsernameOffset + UsernameSize

	RowSize = IDSize + UsernameSize + EmailSize
)

// Row is the unit of storage: a fixed-schema record keyed by ID.
type Row struct {
	ID       uint32
	Username [UsernameSize]byte
	Email    [EmailSize]byte
}

// NewRow builds a row from string fields, rejecting over-long values.
func NewRow(id uint32, username, email string) (Row, error) {
	var r Row
	if len(username) > ColumnUsernameSize {
		return r, fmt.Errorf("username exceeds %d characters", ColumnUsernameSize)
	}
	if len(email) > ColumnEmailSize {
		return r, fmt.Errorf("email exceeds %d characters", ColumnEmailSize)
	}
	r.ID = id
	copy(r.Username[:], username)
	copy(r.Email[:], email)
	return r, nil
}

// Serialize writes the row into dst, which must hold at least RowSize bytes.
func (r *Row) Serialize(dst []byte) {
	binary.LittleEndian.PutUint32(dst[IDOffset:], r.ID)
	copy(dst[UsernameOffset:UsernameOffset+UsernameSize], r.Username[:])
	copy(dst[EmailOffset:EmailOffset+EmailSize], r.Email[:])
}

// Deserialize reads the row from src, which must hold at least RowSize bytes.
func (r *Row) Deserialize(src []byte) {
	r.ID = binary.LittleEndian.Uint32(src[IDOffset:])
	copy(r.Username[:], src[UsernameOffset:UsernameOffset+UsernameSize])
	copy(r.Email[:], src[EmailOffset:EmailOffset+EmailSize])
}

// SetUsername overwrites the username buffer with a NUL-terminated copy of s.
func (r *Row) SetUsername(s string) {
	r.Username = [UsernameSize]byte{}
	copy(r.Username[:], s)
}

// SetEmail overwrites the email buffer with a NUL-terminated copy of s.
func (r *Row) SetEmail(s string) {
	r.Email = [EmailSize]byte{}
	copy(r.Email[:], s)
}

// UsernameString returns the username up to its first NUL.
func (r *Row) UsernameString() string {
	return cstring(r.Username[:])
}

// EmailString returns the email up to its first NUL.
func (r *Row) EmailString() string {
	return cstring(r.Email[:])
}

func (r *Row) String() string {
	return fmt.Sprintf("(%d, %s, %s)", r.ID, r.UsernameString(), r.EmailString())
}

// cstring interprets b as a NUL-terminated string.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
