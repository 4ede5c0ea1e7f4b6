package testutil

import "sync"

// MockProgressTracker is a mock implementation of ProgressTracker for testing.
type MockProgressTracker struct {
	mu sync.Mutex

	Updates   []ProgressUpdate
	Completed []string
	Errored   map[string]error
}

// ProgressUpdate represents a single progress update event.
type ProgressUpdate struct {
	SessionID   string
	Transferred int64
	Total       int64
}

// Update records a progress update.
func (m *MockProgressTracker) Update(sessionID string, bytesUploaded, totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates = append(m.Updates, ProgressUpdate{
		SessionID:   sessionID,
		Transferred: bytesUploaded,
		Total:       totalBytes,
	})
}

// Complete records a session completion.
func (m *MockProgressTracker) Complete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completed = append(m.Completed, sessionID)
}

// Error records a session failure.
func (m *MockProgressTracker) Error(sessionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Errored == nil {
		m.Errored = make(map[string]error)
	}
	m.Errored[sessionID] = err
}

// UpdatesFor returns the recorded updates for one session.
func (m *MockProgressTracker) UpdatesFor(sessionID string) []ProgressUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ProgressUpdate
	for _, u := range m.Updates {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	return out
}
