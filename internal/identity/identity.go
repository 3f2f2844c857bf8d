// Package identity exposes who is using a lesson. The quiz engine only reads
// the user identifier; signing in and out happens elsewhere.
package identity

import (
	"context"
	"sync"
)

// Listener is called with the new user ID, or signedIn=false after sign-out.
type Listener func(userID string, signedIn bool)

// Source provides the current user and notifies about auth state changes.
type Source interface {
	CurrentUser(ctx context.Context) (userID string, signedIn bool, err error)
	Subscribe(fn Listener) (unsubscribe func())
}

// Memory is a settable Source for tests and local tools.
type Memory struct {
	mu        sync.RWMutex
	userID    string
	listeners map[int]Listener
	nextID    int
}

// NewMemory creates a source signed in as userID, or anonymous if userID is empty.
func NewMemory(userID string) *Memory {
	return &Memory{
		userID:    userID,
		listeners: make(map[int]Listener),
	}
}

// Anonymous returns a source that is always signed out.
func Anonymous() *Memory {
	return NewMemory("")
}

func (m *Memory) CurrentUser(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID, m.userID != "", nil
}

// SignIn switches the current user and notifies subscribers.
func (m *Memory) SignIn(userID string) {
	m.set(userID)
}

// SignOut clears the current user and notifies subscribers.
func (m *Memory) SignOut() {
	m.set("")
}

func (m *Memory) set(userID string) {
	m.mu.Lock()
	m.userID = userID
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(userID, userID != "")
	}
}

func (m *Memory) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
