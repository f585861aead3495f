// Package transcript keeps the recent conversation text of live sessions.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds each session's log.
const DefaultMaxEntries = 200

// Entry is one forwarded line of conversation.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// Log is a bounded, append-only record of one session's conversation.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewLog creates a log keeping at most maxEntries lines.
func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{entries: make([]Entry, 0, min(maxEntries, 32)), maxSize: maxEntries}
}

// Add appends a line, evicting the oldest once the log is full.
func (l *Log) Add(role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{Timestamp: time.Now(), Role: role, Text: text})
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
}

// Since returns a copy of the entries newer than d ago. d <= 0 returns all.
func (l *Log) Since(d time.Duration) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d <= 0 {
		result := make([]Entry, len(l.entries))
		copy(result, l.entries)
		return result
	}
	cutoff := time.Now().Add(-d)
	var result []Entry
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			result = append(result, e)
		}
	}
	return result
}

// Text renders entries newer than d ago as "ROLE: text" lines.
func (l *Log) Text(d time.Duration) string {
	entries := l.Since(d)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, strings.ToUpper(e.Role)+": "+e.Text)
	}
	return strings.Join(parts, "\n")
}

// Len is the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Store indexes logs by session id.
type Store struct {
	mu      sync.RWMutex
	logs    map[string]*Log
	maxSize int
}

// NewStore creates a store whose logs keep maxEntries lines each.
func NewStore(maxEntries int) *Store {
	return &Store{logs: make(map[string]*Log), maxSize: maxEntries}
}

// Add appends to the session's log, creating it on first use.
func (s *Store) Add(sessionID, role, text string) {
	s.mu.Lock()
	l, ok := s.logs[sessionID]
	if !ok {
		l = NewLog(s.maxSize)
		s.logs[sessionID] = l
	}
	s.mu.Unlock()
	l.Add(role, text)
}

// Get returns the session's log, if any.
func (s *Store) Get(sessionID string) (*Log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[sessionID]
	return l, ok
}

// Drop forgets the session's log.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
}
