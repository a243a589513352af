// Package welcomed persists which nodes have already received the
// onboarding welcome message, so a restart of the gateway does not spam
// returning nodes with a second greeting.
package welcomed

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/smartyhall/meshbbs-gateway/internal/atomicfile"
	"github.com/smartyhall/meshbbs-gateway/internal/meshid"
)

// Entry records when a node was last welcomed (WelcomedAt is overwritten
// by every MarkWelcomed), how many times it has been welcomed (Count), and
// how many welcome attempts were recorded through RecordAttempt
// (Attempts).
type Entry struct {
	WelcomedAt time.Time `json:"welcomed_at"`
	Count      int       `json:"count"`
	Attempts   int       `json:"attempts"`
}

type document struct {
	Nodes map[string]Entry `json:"nodes"`
}

// Store is the persistent set of welcomed node ids.
type Store struct {
	mu    sync.Mutex
	path  string
	nodes map[uint32]Entry
}

// Load reads path if present or starts empty.
func Load(path string) (*Store, error) {
	s := &Store{path: path, nodes: make(map[uint32]Entry)}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	b = atomicfile.TrimLeadingNUL(b)

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return s, nil
	}
	for idStr, e := range doc.Nodes {
		id, err := meshid.Parse(idStr)
		if err != nil {
			continue
		}
		s.nodes[id] = e
	}
	return s, nil
}

// IsWelcomed reports whether id has already been welcomed at least once.
// A node recorded only via RecordAttempt (a ping sent but never
// confirmed) does not count.
func (s *Store) IsWelcomed(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id].Count > 0
}

// Attempts returns how many welcome attempts have been recorded for id.
func (s *Store) Attempts(id uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id].Attempts
}

// RecordAttempt increments id's attempt counter without marking it
// welcomed, used when a ping or send attempt is made but not yet
// confirmed delivered.
func (s *Store) RecordAttempt(id uint32, now time.Time) error {
	s.mu.Lock()
	e := s.nodes[id]
	e.Attempts++
	s.nodes[id] = e
	s.mu.Unlock()

	return s.save()
}

// MarkWelcomed records id as welcomed as of now, bumping its welcome
// count, and persists the store. A node may be welcomed more than once
// up to the onboarder's own max_welcomes_per_node cap.
func (s *Store) MarkWelcomed(id uint32, now time.Time) error {
	s.mu.Lock()
	e := s.nodes[id]
	e.WelcomedAt = now
	e.Count++
	s.nodes[id] = e
	s.mu.Unlock()

	return s.save()
}

// Count returns how many times id has been welcomed.
func (s *Store) Count(id uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id].Count
}

// LastWelcomedAt returns the instant id was last welcomed, the zero
// value if never.
func (s *Store) LastWelcomedAt(id uint32) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id].WelcomedAt
}

func (s *Store) save() error {
	s.mu.Lock()
	doc := document{Nodes: make(map[string]Entry, len(s.nodes))}
	for id, e := range s.nodes {
		doc.Nodes[meshid.Format(id)] = e
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(s.path, b)
}
