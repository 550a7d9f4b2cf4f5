package service

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-shine/internal/config"
	"github.com/resident-x/go-shine/internal/domain"
	"github.com/resident-x/go-shine/internal/protocol"
)

type reportedReading struct {
	deviceID string
	kind     string
	reading  domain.Reading
}

type recordingSink struct {
	mu      sync.Mutex
	reports []reportedReading
}

func (s *recordingSink) Report(_ context.Context, deviceID, kind string, reading domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, reportedReading{deviceID: deviceID, kind: kind, reading: reading})
	return nil
}

func (s *recordingSink) DeviceIdle(string) error { return nil }
func (s *recordingSink) DeviceOffline() error    { return nil }
func (s *recordingSink) Close() error            { return nil }

func (s *recordingSink) Reports() []reportedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reportedReading{}, s.reports...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.API.Enabled = false
	cfg.MQTT.Enabled = false
	cfg.Liveness.SweepInterval = time.Hour
	return cfg
}

func startTestServer(t *testing.T, sink domain.Sink) *Server {
	t.Helper()

	server, err := NewServer(testConfig(), sink)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	return server
}

func dialTestServer(t *testing.T, server *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// dataPayload builds a minimal valid data record carrying the two serials
// and a running status word.
func dataPayload(wifiSerial, inverterSerial string) []byte {
	payload := make([]byte, 200)
	copy(payload[0:], wifiSerial)
	copy(payload[10:], inverterSerial)
	payload[72] = 0x01 // status: normal
	return payload
}

func readReply(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestServerDataFrameIsAckedAndReported(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	frame := protocol.Encode(1, 5, protocol.MsgDataV1, dataPayload("AH12345678", "NTC5512345"))
	_, err := conn.Write(frame)
	require.NoError(t, err)

	ack := readReply(t, conn, len(protocol.GenericAck()))
	assert.Equal(t, protocol.GenericAck(), ack)

	require.Eventually(t, func() bool {
		return len(sink.Reports()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	report := sink.Reports()[0]
	assert.Equal(t, "AH12345678", report.deviceID)
	assert.Equal(t, "data", report.kind)

	reading, ok := report.reading.(domain.DataReading)
	require.True(t, ok)
	assert.Equal(t, "AH12345678", reading.WifiSerial)
	assert.Equal(t, "NTC5512345", reading.InverterSerial)
	assert.Equal(t, domain.StatusNormal, reading.Status)
}

func TestServerPingIsEchoed(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	frame := protocol.Encode(7, 5, protocol.MsgPing, []byte("AH12345678"))
	_, err := conn.Write(frame)
	require.NoError(t, err)

	echo := readReply(t, conn, len(frame))
	assert.Equal(t, frame, echo)

	// Pings never reach the sink.
	assert.Empty(t, sink.Reports())
}

func TestServerAnnounceGetsAcceptedReply(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	frame := protocol.Encode(42, 5, protocol.MsgAnnounceV1, []byte("AH12345678"))
	_, err := conn.Write(frame)
	require.NoError(t, err)

	reply := readReply(t, conn, protocol.FrameLen(3))
	decoded, err := protocol.Decode(reply)
	require.NoError(t, err)

	assert.Equal(t, uint16(42), decoded.Counter)
	assert.Equal(t, uint16(5), decoded.ProtocolVersion)
	assert.Equal(t, protocol.MsgAnnounceV1, decoded.Type)
	assert.Equal(t, []byte{0x00}, decoded.Payload)
	assert.True(t, decoded.CRCOk)
	assert.Empty(t, sink.Reports())
}

func TestServerReassemblesSplitWrites(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	frame := protocol.Encode(3, 5, protocol.MsgDataV51, dataPayload("AH12345678", "NTC5512345"))

	_, err := conn.Write(frame[:11])
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write(frame[11:])
	require.NoError(t, err)

	ack := readReply(t, conn, len(protocol.GenericAck()))
	assert.Equal(t, protocol.GenericAck(), ack)

	require.Eventually(t, func() bool {
		return len(sink.Reports()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "AH12345678", sink.Reports()[0].deviceID)
}

func TestServerHandlesMultipleFramesInOneWrite(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	ping := protocol.Encode(1, 5, protocol.MsgPing, []byte("AH12345678"))
	data := protocol.Encode(2, 5, protocol.MsgDataV1, dataPayload("AH12345678", "NTC5512345"))

	_, err := conn.Write(append(append([]byte{}, ping...), data...))
	require.NoError(t, err)

	reply := readReply(t, conn, len(ping)+len(protocol.GenericAck()))
	assert.Equal(t, ping, reply[:len(ping)])
	assert.Equal(t, protocol.GenericAck(), reply[len(ping):])

	require.Eventually(t, func() bool {
		return len(sink.Reports()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerTracksSessions(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	frame := protocol.Encode(1, 5, protocol.MsgDataV1, dataPayload("AH12345678", "NTC5512345"))
	_, err := conn.Write(frame)
	require.NoError(t, err)
	readReply(t, conn, len(protocol.GenericAck()))

	require.Eventually(t, func() bool {
		sessions := server.Sessions()
		return len(sessions) == 1 && sessions[0].DeviceSerial == "AH12345678"
	}, 5*time.Second, 10*time.Millisecond)

	stats := server.Sessions()[0]
	assert.Equal(t, int64(1), stats.FramesReceived)
	assert.Equal(t, int64(1), stats.RepliesSent)
	assert.Equal(t, int64(len(frame)), stats.BytesReceived)
}

func TestServerSkipsDataWithoutDeviceIdentifier(t *testing.T) {
	sink := &recordingSink{}
	server := startTestServer(t, sink)
	conn := dialTestServer(t, server)

	payload := dataPayload("", "")
	frame := protocol.Encode(9, 5, protocol.MsgDataV1, payload)
	_, err := conn.Write(frame)
	require.NoError(t, err)

	// Still acked even though the reading is discarded.
	ack := readReply(t, conn, len(protocol.GenericAck()))
	assert.Equal(t, protocol.GenericAck(), ack)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.Reports())
}
