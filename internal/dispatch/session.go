package dispatch

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBadCredential indicates a failed LOGIN.
	ErrBadCredential = errors.New("invalid credential")

	// ErrNoSession indicates a command issued without a valid LOGIN session.
	ErrNoSession = errors.New("not logged in")
)

// Session is one authenticated command stream. SELECT_AGENT sets the
// implicit target used by the "." agent placeholder.
type Session struct {
	ID       string    `json:"id"`
	Selected string    `json:"selected,omitempty"`
	LoginAt  time.Time `json:"loginAt"`
}

// sessionTable tracks live sessions keyed by id.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*Session)}
}

func (t *sessionTable) create() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Session{ID: uuid.New().String(), LoginAt: time.Now()}
	t.sessions[s.ID] = s
	return s
}

func (t *sessionTable) get(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) selectAgent(id, agent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	s.Selected = agent
	return true
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
