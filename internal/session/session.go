// Package session provides per-connection state for connected dongles.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/resident-x/go-shine/internal/protocol"
)

// Session represents one accepted dongle connection. Sessions share no
// mutable state with each other; the only cross-connection resource is the
// liveness tracker, which guards itself.
type Session struct {
	ID           string
	RemoteAddr   string
	LocalAddr    string
	ConnectedAt  time.Time
	LastActivity time.Time
	DeviceSerial string

	BytesReceived  int64
	BytesSent      int64
	FramesReceived int64
	RepliesSent    int64
	ErrorCount     int64

	Connection net.Conn

	assembler Assembler
	mutex     sync.RWMutex
}

// New creates a session for an accepted connection.
func New(conn net.Conn) *Session {
	now := time.Now()
	return &Session{
		ID:           generateID(conn.RemoteAddr().String(), now),
		RemoteAddr:   conn.RemoteAddr().String(),
		LocalAddr:    conn.LocalAddr().String(),
		ConnectedAt:  now,
		LastActivity: now,
		Connection:   conn,
	}
}

// Ingest feeds a received chunk into the reassembly buffer and returns
// every complete frame it finishes. A framing error empties the buffer but
// keeps the session alive; frames completed before the error are still
// returned.
func (s *Session) Ingest(data []byte) ([]*protocol.Frame, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.LastActivity = time.Now()
	s.BytesReceived += int64(len(data))
	s.assembler.Feed(data)

	var frames []*protocol.Frame
	for {
		frame, err := s.assembler.Next()
		if err != nil {
			s.ErrorCount++
			return frames, err
		}
		if frame == nil {
			s.FramesReceived += int64(len(frames))
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// SetDeviceSerial records the device identifier once a frame reveals it.
func (s *Session) SetDeviceSerial(serial string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.DeviceSerial = serial
}

// AddBytesSent updates the outbound counters after a reply write.
func (s *Session) AddBytesSent(n int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.BytesSent += n
	s.RepliesSent++
}

// IncrementErrorCount bumps the per-session error counter.
func (s *Session) IncrementErrorCount() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ErrorCount++
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return Stats{
		ID:             s.ID,
		RemoteAddr:     s.RemoteAddr,
		DeviceSerial:   s.DeviceSerial,
		ConnectedAt:    s.ConnectedAt,
		LastActivity:   s.LastActivity,
		BytesReceived:  s.BytesReceived,
		BytesSent:      s.BytesSent,
		FramesReceived: s.FramesReceived,
		RepliesSent:    s.RepliesSent,
		ErrorCount:     s.ErrorCount,
		Pending:        s.assembler.Pending(),
	}
}

// Stats is a snapshot of session counters for external consumption.
type Stats struct {
	ID             string    `json:"id"`
	RemoteAddr     string    `json:"remote_addr"`
	DeviceSerial   string    `json:"device_serial"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	BytesReceived  int64     `json:"bytes_received"`
	BytesSent      int64     `json:"bytes_sent"`
	FramesReceived int64     `json:"frames_received"`
	RepliesSent    int64     `json:"replies_sent"`
	ErrorCount     int64     `json:"error_count"`
	Pending        int       `json:"pending_bytes"`
}

func generateID(addr string, timestamp time.Time) string {
	return addr + "_" + timestamp.Format("20060102_150405.000000")
}
