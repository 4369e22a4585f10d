// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"termviz/internal/buffer"
	applog "termviz/internal/log"
)

// MainBufferName is the buffer every current source feeds.
const MainBufferName = "main_audio"

// DefaultLatencyMS sizes the main buffer. 50 ms keeps capture-to-visual
// latency well under the 100 ms target while riding out scheduling jitter.
const DefaultLatencyMS = 50

// switchHistorySize bounds the switch history ring.
const switchHistorySize = 32

// Type discriminates the source variants in the registry.
type Type string

const (
	TypeSystem Type = "system"
	TypeFile   Type = "file"
)

// Options carries the per-variant construction parameters.
type Options struct {
	Format  Format
	Capture CaptureOptions
	// FilePath selects the file for TypeFile sources.
	FilePath string
}

// SwitchRecord is one entry in the bounded switch history.
type SwitchRecord struct {
	From      string
	To        string
	SourceID  string
	Timestamp time.Time
	Success   bool
	Error     string
}

// registryEntry tracks a registered source and its bookkeeping.
type registryEntry struct {
	typ         Type
	src         Source
	opts        Options
	createdAt   time.Time
	switchCount uint64
}

// ManagerStats is a snapshot of manager-level counters.
type ManagerStats struct {
	SourceCount   int
	CurrentID     string
	Running       bool
	Switching     bool
	SwitchCount   uint64
	UptimeSeconds float64
	MainBuffer    buffer.Stats
}

// Manager owns the source registry, the main audio buffer, and the
// switch-over protocol. A single lock guards registry and switch state;
// the switching flag rejects reentrant switches without holding the lock
// across the multi-step handoff.
type Manager struct {
	mu        sync.Mutex
	buffers   *buffer.Manager
	main      *buffer.Source
	format    Format
	sources   map[string]*registryEntry
	currentID string
	running   bool
	switching bool

	history     []SwitchRecord
	switchCount uint64
	createdAt   time.Time

	downstream   []DataFunc
	downstreamMu sync.Mutex

	// fadeGain scales routed samples during a switch fade. Stored as
	// float64 bits so the route callback never takes a lock.
	fadeGain atomic.Uint64
}

// NewManager creates a manager owning the main_audio buffer, sized from
// the target latency.
func NewManager(buffers *buffer.Manager, format Format) (*Manager, error) {
	capacity := buffer.SizeForLatency(DefaultLatencyMS, format.SampleRate, format.Channels)
	if _, err := buffers.Create(MainBufferName, capacity, format.SampleRate); err != nil {
		return nil, err
	}

	m := &Manager{
		buffers:   buffers,
		main:      buffers.NewSource(MainBufferName),
		format:    format,
		sources:   make(map[string]*registryEntry),
		createdAt: time.Now(),
	}
	m.fadeGain.Store(math.Float64bits(1.0))

	// The downstream sink fires after main-buffer routing, once per chunk.
	if err := buffers.Route(MainBufferName, m.fanOutDownstream); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) fanOutDownstream(samples []float32) {
	m.downstreamMu.Lock()
	sinks := make([]DataFunc, len(m.downstream))
	copy(sinks, m.downstream)
	m.downstreamMu.Unlock()
	for _, sink := range sinks {
		sink(samples)
	}
}

// OnAudioData installs a downstream sink invoked once per chunk after the
// main buffer routing stage.
func (m *Manager) OnAudioData(fn DataFunc) {
	m.downstreamMu.Lock()
	m.downstream = append(m.downstream, fn)
	m.downstreamMu.Unlock()
}

// CreateSource constructs and registers a source under a unique id.
func (m *Manager) CreateSource(id string, typ Type, opts Options) (string, error) {
	if opts.Format.SampleRate == 0 {
		opts.Format = m.format
	}

	var src Source
	var err error
	switch typ {
	case TypeSystem:
		src, err = NewSystemCapture(opts.Format, opts.Capture)
	case TypeFile:
		src, err = NewFilePlayer(opts.FilePath, opts.Format)
	default:
		return "", fmt.Errorf("%w: unknown source type %q", ErrInvalidArgument, typ)
	}
	if err != nil {
		return "", fmt.Errorf("create source %q: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return "", fmt.Errorf("%w: source %q already exists", ErrInvalidArgument, id)
	}
	m.sources[id] = &registryEntry{typ: typ, src: src, opts: opts, createdAt: time.Now()}
	applog.Infof("sources: registered %q (%s)", id, typ)
	return id, nil
}

// Get returns a registered source.
func (m *Manager) Get(id string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return entry.src, true
}

// Current returns the id of the source feeding main_audio, "" when none.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// RemoveSource drops a source from the registry. The current source
// cannot be removed.
func (m *Manager) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.currentID {
		return fmt.Errorf("%w: %q is the current source", ErrInvalidArgument, id)
	}
	entry, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("%w: no source %q", ErrInvalidArgument, id)
	}
	_ = entry.src.Stop()
	entry.src.ClearCallbacks()
	delete(m.sources, id)
	return nil
}

// SwitchToSource atomically replaces the producer feeding main_audio.
// Switches are serialized: a call arriving while another switch is in
// progress fails with ErrSwitchFailed and is recorded as such.
func (m *Manager) SwitchToSource(id string, fadeMS int) error {
	m.mu.Lock()
	if m.switching {
		from := m.currentID
		m.recordLocked(SwitchRecord{
			From: from, To: id, SourceID: id, Timestamp: time.Now(),
			Success: false, Error: "switch already in progress",
		})
		m.mu.Unlock()
		return fmt.Errorf("%w: switch already in progress", ErrSwitchFailed)
	}
	entry, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: no source %q", ErrInvalidArgument, id)
	}
	oldID := m.currentID
	var oldSrc Source
	if old, ok := m.sources[oldID]; ok {
		oldSrc = old.src
	}
	running := m.running
	m.switching = true
	m.mu.Unlock()

	err := m.performSwitch(oldSrc, entry.src, fadeMS, running)

	m.mu.Lock()
	m.switching = false
	record := SwitchRecord{
		From: oldID, To: id, SourceID: id, Timestamp: time.Now(), Success: err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		// A failed start leaves the manager pointing at whichever source
		// is actually live: the new one if it started, else the old one
		// if it is still running, else none.
		if entry.src.Status() == StatusRunning {
			m.currentID = id
		} else if oldSrc != nil && oldSrc.Status() == StatusRunning {
			m.currentID = oldID
		} else {
			m.currentID = ""
		}
	} else {
		m.currentID = id
		entry.switchCount++
		m.switchCount++
	}
	m.recordLocked(record)
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %w", ErrSwitchFailed, err)
	}
	applog.Infof("sources: switched %q -> %q", oldID, id)
	return nil
}

// performSwitch runs the handoff steps outside the registry lock.
func (m *Manager) performSwitch(oldSrc, newSrc Source, fadeMS int, running bool) error {
	// (a) fade the old producer out.
	if oldSrc != nil && fadeMS > 0 {
		m.fade(1.0, 0.0, time.Duration(fadeMS)*time.Millisecond)
	}

	// (b) stop the old source and detach it so no stale callback can
	// land in the main buffer after the switch completes.
	if oldSrc != nil {
		if err := oldSrc.Stop(); err != nil {
			m.fadeGain.Store(math.Float64bits(1.0))
			return fmt.Errorf("stop old source: %w", err)
		}
		oldSrc.ClearCallbacks()
	}

	// (c) clear the main buffer so the two streams never mix.
	m.main.Clear()

	// (d) wire the new source into the main buffer.
	newSrc.ClearCallbacks()
	newSrc.OnAudioData(m.writeMain)

	// (e) start it if the manager is running.
	if running {
		if fadeMS > 0 {
			m.fadeGain.Store(math.Float64bits(0.0))
		}
		if err := newSrc.Start(); err != nil {
			m.fadeGain.Store(math.Float64bits(1.0))
			return fmt.Errorf("start new source: %w", err)
		}
	}

	// (f) fade the new producer in.
	if fadeMS > 0 && running {
		m.fade(0.0, 1.0, time.Duration(fadeMS)*time.Millisecond)
	}
	m.fadeGain.Store(math.Float64bits(1.0))
	return nil
}

// writeMain is the callback wired into the current source. The fade gain
// is applied before the samples land in the main buffer.
func (m *Manager) writeMain(samples []float32) {
	gain := math.Float64frombits(m.fadeGain.Load())
	if gain != 1.0 {
		scaled := make([]float32, len(samples))
		g := float32(gain)
		for i, s := range samples {
			scaled[i] = s * g
		}
		samples = scaled
	}
	if _, err := m.main.Write(samples); err != nil {
		applog.Debugf("sources: main buffer write: %v", err)
	}
}

// fade ramps the routing gain linearly over the duration in small steps.
func (m *Manager) fade(from, to float64, d time.Duration) {
	const steps = 16
	stepSleep := d / steps
	for i := 1; i <= steps; i++ {
		g := from + (to-from)*float64(i)/steps
		m.fadeGain.Store(math.Float64bits(g))
		time.Sleep(stepSleep)
	}
}

func (m *Manager) recordLocked(r SwitchRecord) {
	m.history = append(m.history, r)
	if len(m.history) > switchHistorySize {
		m.history = m.history[len(m.history)-switchHistorySize:]
	}
}

// History returns a copy of the switch history, oldest first.
func (m *Manager) History() []SwitchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SwitchRecord, len(m.history))
	copy(out, m.history)
	return out
}

// currentSource fetches the current source, failing while a switch is in
// progress.
func (m *Manager) currentSource() (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.switching {
		return nil, fmt.Errorf("%w: switch in progress", ErrSwitchFailed)
	}
	entry, ok := m.sources[m.currentID]
	if !ok {
		return nil, fmt.Errorf("%w: no current source", ErrSourceError)
	}
	return entry.src, nil
}

// Start starts the current source and marks the manager running.
func (m *Manager) Start() error {
	src, err := m.currentSource()
	if err != nil {
		return err
	}
	if err := src.Start(); err != nil {
		return err
	}
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	return nil
}

// Stop stops the current source and marks the manager stopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.switching {
		m.mu.Unlock()
		return fmt.Errorf("%w: switch in progress", ErrSwitchFailed)
	}
	entry, ok := m.sources[m.currentID]
	m.running = false
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.src.Stop()
}

// Pause pauses the current source.
func (m *Manager) Pause() error {
	src, err := m.currentSource()
	if err != nil {
		return err
	}
	return src.Pause()
}

// Resume resumes the current source.
func (m *Manager) Resume() error {
	src, err := m.currentSource()
	if err != nil {
		return err
	}
	return src.Resume()
}

// SwitchToSystemAudio reuses an existing system source if one is
// registered, otherwise creates one, then switches to it.
func (m *Manager) SwitchToSystemAudio(opts Options, fadeMS int) error {
	id := m.findMatching(TypeSystem, "")
	if id == "" {
		var err error
		id, err = m.CreateSource("system_audio", TypeSystem, opts)
		if err != nil {
			return err
		}
	}
	return m.SwitchToSource(id, fadeMS)
}

// SwitchToFile reuses an existing player for the same path if present,
// otherwise creates one, then switches to it.
func (m *Manager) SwitchToFile(path string, opts Options, fadeMS int) error {
	opts.FilePath = path
	id := m.findMatching(TypeFile, path)
	if id == "" {
		var err error
		id, err = m.CreateSource(fmt.Sprintf("file:%s", path), TypeFile, opts)
		if err != nil {
			return err
		}
	}
	return m.SwitchToSource(id, fadeMS)
}

func (m *Manager) findMatching(typ Type, path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.sources {
		if entry.typ != typ {
			continue
		}
		if typ == TypeFile && entry.opts.FilePath != path {
			continue
		}
		return id
	}
	return ""
}

// Healthy reports manager health: the current source (if any) running, and
// the main buffer healthy.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	currentID := m.currentID
	entry := m.sources[currentID]
	m.mu.Unlock()

	if entry != nil && entry.src.Status() != StatusRunning {
		return false
	}
	return m.main.Stats().Status == buffer.Healthy
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats snapshots the manager counters and the main buffer.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	st := ManagerStats{
		SourceCount:   len(m.sources),
		CurrentID:     m.currentID,
		Running:       m.running,
		Switching:     m.switching,
		SwitchCount:   m.switchCount,
		UptimeSeconds: time.Since(m.createdAt).Seconds(),
	}
	m.mu.Unlock()
	st.MainBuffer = m.main.Stats()
	return st
}

// Close stops every source and drops the registry. The buffer manager is
// left to its owner.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*registryEntry, 0, len(m.sources))
	for _, e := range m.sources {
		entries = append(entries, e)
	}
	m.sources = make(map[string]*registryEntry)
	m.currentID = ""
	m.running = false
	m.mu.Unlock()

	for _, e := range entries {
		_ = e.src.Stop()
		e.src.ClearCallbacks()
	}
}
