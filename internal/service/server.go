// Package service provides implementation of the core collection server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-shine/internal/api"
	"github.com/resident-x/go-shine/internal/config"
	"github.com/resident-x/go-shine/internal/domain"
	"github.com/resident-x/go-shine/internal/metrics"
	"github.com/resident-x/go-shine/internal/protocol"
	"github.com/resident-x/go-shine/internal/session"
)

// Server accepts dongle TCP connections, decodes their telemetry, keeps
// them streaming with the replies they expect, and forwards readings and
// liveness events to the sink.
type Server struct {
	config      *config.Config
	listener    net.Listener
	apiServer   *api.Server
	sink        domain.Sink
	tracker     *domain.Tracker
	metrics     *metrics.AppMetrics
	sessions    map[string]*session.Session
	sessionLock sync.RWMutex
	done        chan struct{}
	offline     chan struct{}
	offlineOnce sync.Once
	logger      zerolog.Logger
}

// NewServer creates a collection server publishing to the given sink.
func NewServer(cfg *config.Config, sink domain.Sink) (*Server, error) {
	registry := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(registry)

	server := &Server{
		config:   cfg,
		sink:     sink,
		metrics:  appMetrics,
		sessions: make(map[string]*session.Session),
		done:     make(chan struct{}),
		offline:  make(chan struct{}),
		logger:   log.With().Str("component", "server").Logger(),
	}

	// The tracker owns idle eviction; the metered wrapper keeps the
	// instruments in step with its emissions.
	server.tracker = domain.NewTracker(
		&meteredSink{inner: sink, metrics: appMetrics},
		cfg.Liveness.DeviceIdle,
		cfg.Liveness.OfflineAfter,
		server.signalOffline,
	)

	if cfg.API.Enabled {
		server.apiServer = api.NewServer(cfg, server.tracker, server, metrics.Handler(registry))
	}

	return server, nil
}

// Start initializes and starts all server components.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Msg("Server started")

	s.tracker.Start(s.config.Liveness.SweepInterval)

	if s.apiServer != nil {
		if err := s.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	go s.acceptConnections(ctx)

	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OfflineExpired is closed when no device has reported within the global
// threshold; the entry point exits so a supervisor can restart the
// process.
func (s *Server) OfflineExpired() <-chan struct{} {
	return s.offline
}

func (s *Server) signalOffline() {
	s.offlineOnce.Do(func() { close(s.offline) })
}

// Stop gracefully shuts down all server components.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping server")

	close(s.done)

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close listener")
		}
	}

	s.sessionLock.Lock()
	for id, sess := range s.sessions {
		if err := sess.Connection.Close(); err != nil {
			s.logger.Error().
				Str("session_id", id).
				Err(err).
				Msg("Failed to close client connection")
		}
	}
	s.sessionLock.Unlock()

	s.tracker.Stop()

	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if err := s.sink.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close sink")
	}

	return nil
}

// Sessions returns snapshots of all active connections.
func (s *Server) Sessions() []session.Stats {
	s.sessionLock.RLock()
	defer s.sessionLock.RUnlock()

	stats := make([]session.Stats, 0, len(s.sessions))
	for _, sess := range s.sessions {
		stats = append(stats, sess.Stats())
	}
	return stats
}

// acceptConnections handles incoming TCP connections.
func (s *Server) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.done:
					return
				case <-ctx.Done():
					return
				default:
					if errors.Is(err, net.ErrClosed) {
						return
					}
					s.logger.Error().Err(err).Msg("Failed to accept connection")
					continue
				}
			}

			s.metrics.ConnectionsAccepted.Inc()
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection processes data from one dongle connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sess := session.New(conn)

	s.sessionLock.Lock()
	s.sessions[sess.ID] = sess
	s.sessionLock.Unlock()

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error().Err(err).Msg("Failed to close client connection")
		}
		s.sessionLock.Lock()
		delete(s.sessions, sess.ID)
		s.sessionLock.Unlock()
	}()

	s.logger.Info().
		Str("address", sess.RemoteAddr).
		Str("session_id", sess.ID).
		Msg("Client connected")

	buf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		// The deadline only paces the loop; idle sockets are never
		// disconnected by this server.
		if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to set read deadline")
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Info().
				Str("address", sess.RemoteAddr).
				Str("session_id", sess.ID).
				Err(err).
				Msg("Client disconnected")
			return
		}

		if n > 0 {
			s.metrics.BytesReceived.Add(float64(n))
			s.processChunk(ctx, sess, buf[:n])
		}
	}
}

// processChunk feeds received bytes through reassembly and handles every
// completed frame. Framing errors drop the buffered bytes but keep the
// connection open.
func (s *Server) processChunk(ctx context.Context, sess *session.Session, data []byte) {
	frames, err := sess.Ingest(data)
	if err != nil {
		s.metrics.FramesDecoded.WithLabelValues("framing_error").Inc()
		s.logger.Warn().
			Str("session_id", sess.ID).
			Err(err).
			Msg("Malformed framing, waiting for more data")
	}

	for _, frame := range frames {
		s.handleFrame(ctx, sess, frame)
	}
}

// handleFrame answers one decoded frame and forwards its reading.
func (s *Server) handleFrame(ctx context.Context, sess *session.Session, frame *protocol.Frame) {
	s.metrics.FramesDecoded.WithLabelValues("ok").Inc()
	if !frame.CRCOk {
		// Reported, not fatal: the payload is still usable.
		s.metrics.CRCMismatches.Inc()
		s.logger.Warn().
			Str("session_id", sess.ID).
			Str("type", frame.Type.String()).
			Uint16("counter", frame.Counter).
			Msg("CRC mismatch on inbound frame")
	}

	// Reply first: the firmware stops streaming on a late or missing ack.
	reply := protocol.Reply(frame)
	if err := s.writeReply(sess, reply); err != nil {
		s.logger.Error().
			Str("session_id", sess.ID).
			Err(err).
			Msg("Failed to write reply")
		return
	}
	s.metrics.RepliesSent.WithLabelValues(frame.Type.Kind().String()).Inc()

	reading, err := protocol.DecodePayload(frame.Type, frame.Payload)
	if err != nil {
		// Acked above; skip the reading and keep the connection.
		sess.IncrementErrorCount()
		s.logger.Warn().
			Str("session_id", sess.ID).
			Str("type", frame.Type.String()).
			Err(err).
			Msg("Failed to decode payload")
		return
	}
	if reading == nil {
		s.logger.Debug().
			Str("session_id", sess.ID).
			Str("type", frame.Type.String()).
			Msg("No reading for message type")
		return
	}

	if serial := reading.DeviceID(); serial != "" {
		sess.SetDeviceSerial(serial)
	}

	if frame.Type.Kind() != protocol.KindData {
		return
	}

	s.emitData(ctx, sess, reading)
}

// emitData forwards a data reading to the sink and updates liveness.
// Sink failures are logged, never propagated to the socket path.
func (s *Server) emitData(ctx context.Context, sess *session.Session, reading domain.Reading) {
	deviceID := reading.DeviceID()
	if deviceID == "" {
		// Recoverable: discard the reading, keep the connection.
		sess.IncrementErrorCount()
		s.logger.Warn().
			Str("session_id", sess.ID).
			Msg("Data frame missing device identifier, reading discarded")
		return
	}

	s.tracker.Touch(deviceID)
	s.metrics.DevicesOnline.Set(float64(s.tracker.Count()))

	if err := s.sink.Report(ctx, deviceID, reading.Kind(), reading); err != nil {
		s.logger.Error().
			Str("device", deviceID).
			Err(err).
			Msg("Failed to publish reading")
		return
	}
	s.metrics.ReadingsPublished.Inc()

	s.logger.Debug().
		Str("device", deviceID).
		Str("session_id", sess.ID).
		Msg("Processed data frame")
}

func (s *Server) writeReply(sess *session.Session, reply []byte) error {
	if err := sess.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	n, err := sess.Connection.Write(reply)
	if err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}

	sess.AddBytesSent(int64(n))
	return nil
}

// meteredSink counts the tracker's liveness emissions.
type meteredSink struct {
	inner   domain.Sink
	metrics *metrics.AppMetrics
}

func (m *meteredSink) Report(ctx context.Context, deviceID, kind string, reading domain.Reading) error {
	return m.inner.Report(ctx, deviceID, kind, reading)
}

func (m *meteredSink) DeviceIdle(deviceID string) error {
	m.metrics.IdleResets.Inc()
	m.metrics.DevicesOnline.Dec()
	return m.inner.DeviceIdle(deviceID)
}

func (m *meteredSink) DeviceOffline() error {
	return m.inner.DeviceOffline()
}

func (m *meteredSink) Close() error {
	return m.inner.Close()
}
