package session

import "crypto/sha256"

// Session is one authenticated session.
type Session struct {
	SessionID     string
	UserID        string
	CSRFToken     string
	IPHash        [32]byte
	UserAgentHash [32]byte
	CreatedAt     int64
	ExpiresAt     int64
}

func hashAttribute(v string) [32]byte {
	if v == "" {
		return [32]byte{}
	}
	return sha256.Sum256([]byte(v))
}

// MatchesIP reports whether ip is the address the session was opened from.
func (s *Session) MatchesIP(ip string) bool {
	return s.IPHash == hashAttribute(ip)
}
