package hub

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ID is an opaque 128-bit identity of a connection.
type ID [16]byte

// NewID returns random ID in the form of version 4 UUID.
func NewID() (id ID) {
	if _, err := rand.Read(id[:]); err != nil {
		panic(errors.Wrap(err, "read random bytes"))
	}
	id[6] = id[6]&0x0f | 0x40
	id[8] = id[8]&0x3f | 0x80
	return id
}

// ParseID parses ID from its String() representation.
func ParseID(s string) (id ID, err error) {
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return id, errors.Errorf("malformed id %q", s)
	}
	var j int
	for i := 0; i < len(s); {
		if s[i] == '-' {
			i++
			continue
		}
		if _, err = hex.Decode(id[j:j+1], []byte(s[i:i+2])); err != nil {
			return ID{}, errors.Wrapf(err, "malformed id %q", s)
		}
		i += 2
		j++
	}
	return id, nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns id formatted like xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func (id ID) String() string {
	var b [36]byte
	hex.Encode(b[0:8], id[0:4])
	b[8] = '-'
	hex.Encode(b[9:13], id[4:6])
	b[13] = '-'
	hex.Encode(b[14:18], id[6:8])
	b[18] = '-'
	hex.Encode(b[19:23], id[8:10])
	b[23] = '-'
	hex.Encode(b[24:], id[10:])
	return string(b[:])
}
