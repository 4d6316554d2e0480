package common

import (
	"strings"
	"sync"
)

// Switchboard is a concurrency-safe PauseView with administrative toggles. The
// host process exposes Pause/Resume through its admin surface while engines
// only ever observe the view.
type Switchboard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewSwitchboard constructs a switchboard with every module running.
func NewSwitchboard() *Switchboard {
	return &Switchboard{paused: make(map[string]bool)}
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// Pause halts the named module. Pausing an already paused module is a no-op.
func (s *Switchboard) Pause(module string) {
	name := normalizeModule(module)
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	s.paused[name] = true
	s.mu.Unlock()
}

// Resume lifts a pause for the named module.
func (s *Switchboard) Resume(module string) {
	name := normalizeModule(module)
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	delete(s.paused, name)
	s.mu.Unlock()
}

// IsPaused implements the PauseView interface.
func (s *Switchboard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[normalizeModule(module)]
}
