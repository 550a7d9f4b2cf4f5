// Package domain provides core domain implementations.
package domain

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeviceState is the liveness record for one reporting device.
type DeviceState struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Readings  int64     `json:"readings"`
}

// Tracker owns the cross-connection device-liveness map. Sessions call
// Touch on every data frame; a single sweep goroutine evicts idle devices
// and fires the global offline policy. The sweep is the only writer that
// evicts, so emission per device happens at most once.
type Tracker struct {
	mu           sync.RWMutex
	devices      map[string]*DeviceState
	lastReport   time.Time
	offlineFired bool

	idleAfter    time.Duration
	offlineAfter time.Duration

	sink      Sink
	onOffline func()
	logger    zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a liveness tracker. onOffline runs once when no
// device has reported within offlineAfter; the caller uses it to terminate
// the process so a supervisor can restart it.
func NewTracker(sink Sink, idleAfter, offlineAfter time.Duration, onOffline func()) *Tracker {
	return &Tracker{
		devices:      make(map[string]*DeviceState),
		lastReport:   time.Now(),
		idleAfter:    idleAfter,
		offlineAfter: offlineAfter,
		sink:         sink,
		onOffline:    onOffline,
		logger:       log.With().Str("component", "tracker").Logger(),
		stop:         make(chan struct{}),
	}
}

// Touch records a report from a device, creating its record on first
// contact.
func (t *Tracker) Touch(deviceID string) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastReport = now
	if state, ok := t.devices[deviceID]; ok {
		state.LastSeen = now
		state.Readings++
		return
	}

	t.devices[deviceID] = &DeviceState{
		ID:        deviceID,
		FirstSeen: now,
		LastSeen:  now,
		Readings:  1,
	}
	t.logger.Info().Str("device", deviceID).Msg("Device seen for the first time")
}

// Count returns the number of tracked devices.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}

// Snapshot returns a copy of all device records.
func (t *Tracker) Snapshot() []DeviceState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]DeviceState, 0, len(t.devices))
	for _, state := range t.devices {
		states = append(states, *state)
	}
	return states
}

// Start runs the periodic sweep until Stop is called.
func (t *Tracker) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep(time.Now())
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// sweep evicts devices idle beyond the threshold, emitting one zero-reset
// signal each, and fires the global offline policy when nothing has
// reported for the longer window.
func (t *Tracker) sweep(now time.Time) {
	var idle []string
	var offline bool

	t.mu.Lock()
	for id, state := range t.devices {
		if now.Sub(state.LastSeen) > t.idleAfter {
			idle = append(idle, id)
			delete(t.devices, id)
		}
	}
	if !t.offlineFired && now.Sub(t.lastReport) > t.offlineAfter {
		t.offlineFired = true
		offline = true
	}
	t.mu.Unlock()

	for _, id := range idle {
		t.logger.Info().
			Str("device", id).
			Dur("idle_threshold", t.idleAfter).
			Msg("Device idle, resetting downstream topics")
		if err := t.sink.DeviceIdle(id); err != nil {
			t.logger.Error().Str("device", id).Err(err).Msg("Failed to signal idle device")
		}
	}

	if offline {
		t.logger.Warn().
			Dur("offline_threshold", t.offlineAfter).
			Msg("No device has reported within the offline window, requesting restart")
		if err := t.sink.DeviceOffline(); err != nil {
			t.logger.Error().Err(err).Msg("Failed to signal offline state")
		}
		if t.onOffline != nil {
			t.onOffline()
		}
	}
}
