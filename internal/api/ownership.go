package api

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// keyOwner records which gateway connection opened a session key. The
// session id is empty while the connect request is pending and is set
// once the session reports a successful connect.
type keyOwner struct {
	client    *WSClient
	sessionID string
}

// keyTable reserves session keys for gateway connections. Ownership
// belongs to one session instance: once that session ends, its key is
// free for any connection, and the previous owner loses it.
//
// Thread Safety: All methods are safe for concurrent use. The table lock
// is never held while calling into a client.
type keyTable struct {
	sessions SessionRegistry

	mu     sync.Mutex
	owners map[string]*keyOwner
}

func newKeyTable(sessions SessionRegistry) *keyTable {
	return &keyTable{
		sessions: sessions,
		owners:   make(map[string]*keyOwner),
	}
}

// liveSession returns the registered session for key unless it has ended.
func (t *keyTable) liveSession(key string) (*session.Session, bool) {
	s, ok := t.sessions.Session(key)
	if !ok || s == nil {
		return nil, false
	}
	select {
	case <-s.Done():
		return nil, false
	default:
		return s, true
	}
}

// current reports whether o still owns a pending or live session.
// Callers hold t.mu.
func (t *keyTable) current(key string, o *keyOwner) bool {
	if o.sessionID == "" {
		return true
	}
	s, ok := t.liveSession(key)
	return ok && s.ID() == o.sessionID
}

// reserve claims key for c ahead of a connect request. It fails while
// another connect for key is pending, or a session on key is live.
//
// Returns:
//   - *WSClient: The previous owner whose session has ended, if any; the
//     caller tells it to let go of the key
//   - error: If the key is in use
func (t *keyTable) reserve(key string, c *WSClient) (*WSClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale *WSClient
	if o, ok := t.owners[key]; ok {
		if t.current(key, o) {
			return nil, fmt.Errorf("session key %q is in use", key)
		}
		if o.client != c {
			stale = o.client
		}
	}
	if _, live := t.liveSession(key); live {
		return nil, fmt.Errorf("session key %q is in use", key)
	}

	t.owners[key] = &keyOwner{client: c}
	return stale, nil
}

// pending reports whether c holds a reservation for key that has not been
// bound to a session yet.
func (t *keyTable) pending(key string, c *WSClient) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[key]
	return ok && o.client == c && o.sessionID == ""
}

// bind ties c's reservation for key to the session that connected.
func (t *keyTable) bind(key string, c *WSClient, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[key]
	if !ok || o.client != c || o.sessionID != "" {
		return false
	}
	o.sessionID = sessionID
	return true
}

// owns reports whether c opened the pending or live session on key.
func (t *keyTable) owns(key string, c *WSClient) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[key]
	return ok && o.client == c && t.current(key, o)
}

// drop releases c's claim on key. A non-empty sessionID only releases a
// claim bound to that session.
func (t *keyTable) drop(key string, c *WSClient, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[key]
	if !ok || o.client != c {
		return
	}
	if sessionID != "" && o.sessionID != sessionID {
		return
	}
	delete(t.owners, key)
}

// releaseAll drops every claim held by c and returns the keys whose
// sessions c still owned.
func (t *keyTable) releaseAll(c *WSClient) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var owned []string
	for key, o := range t.owners {
		if o.client != c {
			continue
		}
		if t.current(key, o) {
			owned = append(owned, key)
		}
		delete(t.owners, key)
	}
	return owned
}

// count returns the number of reserved keys.
func (t *keyTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}
