package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatV1 = 1

var errFieldTooLong = errors.New("session field too long")

// Encode writes s as: version, then length-prefixed user id and csrf
// token, the two attribute digests, created and expires as big-endian
// unix seconds. The session id is the key and is not encoded.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatV1)

	for _, field := range []string{s.UserID, s.CSRFToken} {
		if len(field) > 255 {
			return nil, errFieldTooLong
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}
	buf.Write(s.IPHash[:])
	buf.Write(s.UserAgentHash[:])

	var ts [16]byte
	binary.BigEndian.PutUint64(ts[:8], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(ts[8:], uint64(s.ExpiresAt))
	buf.Write(ts[:])
	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatV1 {
		return nil, errors.New("invalid session version")
	}

	readString := func() (string, error) {
		n, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	}

	s := &Session{}
	if s.UserID, err = readString(); err != nil {
		return nil, err
	}
	if s.CSRFToken, err = readString(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, s.IPHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, s.UserAgentHash[:]); err != nil {
		return nil, err
	}
	var ts [16]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, err
	}
	s.CreatedAt = int64(binary.BigEndian.Uint64(ts[:8]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(ts[8:]))
	if r.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}
	return s, nil
}
