// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package profile

import (
	"sync"

	"grimm.is/stackveil/internal/errors"
)

// Reader is the engine's view of the profile tables. A false result means "no
// policy" and is never an error.
//
// Process identifiers can be reused after a process exits; entries are not
// bound to a process start time, so a stale profile may apply to a new
// process with the same pid.
type Reader interface {
	LookupTCP(pid uint32) (TCPProfile, bool)
	LookupJA3(pid uint32) (JA3Profile, bool)
}

// Writer is the management side. Implementations validate records before
// they become visible to readers.
type Writer interface {
	InstallTCP(pid uint32, p TCPProfile) error
	InstallJA3(pid uint32, p JA3Profile) error
	RemoveTCP(pid uint32) error
	RemoveJA3(pid uint32) error
}

// Store combines both sides.
type Store interface {
	Reader
	Writer
}

// MemoryStore keeps profiles in process memory. Reads go through sync.Map and
// take no locks; writers serialise on a mutex so capacity accounting stays
// exact.
type MemoryStore struct {
	tcp sync.Map // uint32 -> TCPProfile
	ja3 sync.Map // uint32 -> JA3Profile

	mu       sync.Mutex
	tcpCount int
	ja3Count int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LookupTCP returns a copy of the TCP profile for pid.
func (s *MemoryStore) LookupTCP(pid uint32) (TCPProfile, bool) {
	v, ok := s.tcp.Load(pid)
	if !ok {
		return TCPProfile{}, false
	}
	return v.(TCPProfile), true
}

// LookupJA3 returns a copy of the JA3 profile for pid.
func (s *MemoryStore) LookupJA3(pid uint32) (JA3Profile, bool) {
	v, ok := s.ja3.Load(pid)
	if !ok {
		return JA3Profile{}, false
	}
	return v.(JA3Profile), true
}

// InstallTCP adds or replaces the TCP profile for pid.
func (s *MemoryStore) InstallTCP(pid uint32, p TCPProfile) error {
	if err := p.Validate(); err != nil {
		return errors.Attr(err, "pid", pid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tcp.Load(pid); !exists {
		if s.tcpCount >= MaxTCPProfiles {
			return errors.Errorf(errors.KindCapacity, "tcp profile table full (%d entries)", MaxTCPProfiles)
		}
		s.tcpCount++
	}
	s.tcp.Store(pid, p)
	return nil
}

// InstallJA3 adds or replaces the JA3 profile for pid.
func (s *MemoryStore) InstallJA3(pid uint32, p JA3Profile) error {
	if err := p.Validate(); err != nil {
		return errors.Attr(err, "pid", pid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ja3.Load(pid); !exists {
		if s.ja3Count >= MaxJA3Profiles {
			return errors.Errorf(errors.KindCapacity, "ja3 profile table full (%d entries)", MaxJA3Profiles)
		}
		s.ja3Count++
	}
	s.ja3.Store(pid, p)
	return nil
}

// RemoveTCP deletes the TCP profile for pid.
func (s *MemoryStore) RemoveTCP(pid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := s.tcp.LoadAndDelete(pid); !loaded {
		return errors.Errorf(errors.KindNotFound, "no tcp profile for pid %d", pid)
	}
	s.tcpCount--
	return nil
}

// RemoveJA3 deletes the JA3 profile for pid.
func (s *MemoryStore) RemoveJA3(pid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := s.ja3.LoadAndDelete(pid); !loaded {
		return errors.Errorf(errors.KindNotFound, "no ja3 profile for pid %d", pid)
	}
	s.ja3Count--
	return nil
}

// Len returns the number of installed TCP and JA3 profiles.
func (s *MemoryStore) Len() (tcp, ja3 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpCount, s.ja3Count
}
