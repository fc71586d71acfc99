package engine

import (
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
)

// Session is one isolated automation identity: its own cookie jar, user
// agent and timing profile. A session serves a bounded number of
// attempts, then rotates; it is owned by exactly one worker at a time.
type Session struct {
	ID        string
	CreatedAt time.Time
	Served    int
	UserAgent string
	Client    *http.Client

	// form state carried between checkpoints by the HTTP driver
	form *loadedForm
}

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// SessionManager creates and retires sessions. Each worker asks for its
// own; sessions are never shared between workers.
type SessionManager struct {
	MaxAttempts int
}

func (m *SessionManager) New() *Session {
	jar, _ := cookiejar.New(nil)
	id := uuid.NewString()
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		UserAgent: userAgents[int(time.Now().UnixNano())%len(userAgents)],
		Client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
	}
}

// Rotate retires the session after it served its quota or hit a block
// signal, and hands back a fresh identity.
func (m *SessionManager) Rotate(s *Session, blocked bool) *Session {
	max := m.MaxAttempts
	if max <= 0 {
		max = 10
	}
	if s != nil && !blocked && s.Served < max {
		return s
	}
	if s != nil {
		log.Printf("[session] retiring id=%s served=%d blocked=%v", s.ID, s.Served, blocked)
	}
	return m.New()
}
