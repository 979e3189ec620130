package charger

import (
	"sort"
	"sync"
)

// Store holds the latest snapshot per charger IP. The poller writes, the
// coordinator and publishers read. A charger that has never completed a poll
// is simply absent.
type Store struct {
	mu   sync.RWMutex
	data map[string]Snapshot
	seq  uint64
}

func NewStore() *Store {
	return &Store{data: map[string]Snapshot{}}
}

// Set stores snap as the latest view of its charger and stamps it with a
// store-wide sequence number.
func (s *Store) Set(snap Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	snap.Seq = s.seq
	s.data[snap.IP] = snap
	return snap
}

func (s *Store) Get(ip string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[ip]
	return snap, ok
}

// List returns all snapshots ordered by charger IP.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Snapshot, 0, len(s.data))
	for _, snap := range s.data {
		res = append(res, snap)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IP < res[j].IP })
	return res
}

// Delete drops the snapshot for ip, if any. Used when a charger leaves the
// fleet.
func (s *Store) Delete(ip string) {
	s.mu.Lock()
	delete(s.data, ip)
	s.mu.Unlock()
}
