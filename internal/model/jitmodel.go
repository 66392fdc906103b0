package model

import "sync"

// JITModel is the queryable result of one correlation run: the class
// registry, the ordered event and code cache logs, aggregate statistics
// and the running total of native bytes emitted.
//
// The engine mutates it from a single goroutine. Readers on other
// goroutines (the HTTP API while a watcher re-runs) are guarded by mu.
type JITModel struct {
	mu sync.RWMutex

	registry        *Registry
	events          []Event
	codeCacheEvents []CodeCacheEvent
	nativeBytes     int64
	stats           Stats
	vmCommand       string
}

// NewJITModel creates an empty model.
func NewJITModel() *JITModel {
	return &JITModel{registry: NewRegistry()}
}

// Reset discards everything collected by the previous run.
func (m *JITModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registry = NewRegistry()
	m.events = nil
	m.codeCacheEvents = nil
	m.nativeBytes = 0
	m.stats = Stats{}
	m.vmCommand = ""
}

// Registry returns the class registry. It is owned by the engine's
// goroutine during a run.
func (m *JITModel) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

func (m *JITModel) AddEvent(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a copy of the event log in log order.
func (m *JITModel) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *JITModel) AddCodeCacheEvent(e CodeCacheEvent) {
	m.mu.Lock()
	m.codeCacheEvents = append(m.codeCacheEvents, e)
	m.mu.Unlock()
}

// CodeCacheEvents returns a copy of the code cache log in log order.
func (m *JITModel) CodeCacheEvents() []CodeCacheEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CodeCacheEvent, len(m.codeCacheEvents))
	copy(out, m.codeCacheEvents)
	return out
}

func (m *JITModel) AddNativeBytes(n int64) {
	m.mu.Lock()
	m.nativeBytes += n
	m.mu.Unlock()
}

func (m *JITModel) NativeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nativeBytes
}

// UpdateStats folds a compiled record into the aggregate statistics.
func (m *JITModel) UpdateStats(member *Member, kind EventType, attrs map[string]string) {
	m.mu.Lock()
	m.stats.Update(member, kind, attrs)
	m.mu.Unlock()
}

// Stats returns a snapshot of the aggregate statistics.
func (m *JITModel) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *JITModel) SetVMCommand(cmd string) {
	m.mu.Lock()
	m.vmCommand = cmd
	m.mu.Unlock()
}

func (m *JITModel) VMCommand() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vmCommand
}
