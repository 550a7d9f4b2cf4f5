package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-shine/internal/domain"
)

// fieldOffset resolves a field's payload offset from the wire table so the
// fixtures cannot drift from the decoder.
func fieldOffset(t *testing.T, name string) (off, width int) {
	t.Helper()
	off = dataFieldsOff
	for _, f := range dataFields {
		if f.name == name {
			return off, f.width
		}
		off += f.width
	}
	t.Fatalf("unknown data field %q", name)
	return 0, 0
}

func putField(t *testing.T, payload []byte, name string, raw uint64) {
	t.Helper()
	off, width := fieldOffset(t, name)
	if width == 4 {
		binary.BigEndian.PutUint32(payload[off:], uint32(raw))
	} else {
		binary.BigEndian.PutUint16(payload[off:], uint16(raw))
	}
}

func newDataPayload(t *testing.T, status uint16) []byte {
	t.Helper()
	payload := make([]byte, dataLen)
	copy(payload[0:10], "AH12345678")
	copy(payload[10:20], "NTC5678901")
	binary.BigEndian.PutUint16(payload[dataStatusOff:], status)
	return payload
}

func TestDecodeDataFixture(t *testing.T) {
	payload := newDataPayload(t, 1)
	putField(t, payload, "ppv", 12345)
	putField(t, payload, "eactoday", 500)
	putField(t, payload, "fac", 4999)
	putField(t, payload, "totworkhours", 720000)
	putField(t, payload, "faultcode", 302)
	putField(t, payload, "deratingmode", 0x0a00)
	putField(t, payload, "warningcode", 0x0201)

	reading, err := DecodePayload(MsgDataV1, payload)
	require.NoError(t, err)

	data, ok := reading.(domain.DataReading)
	require.True(t, ok)

	assert.Equal(t, "AH12345678", data.WifiSerial)
	assert.Equal(t, "NTC5678901", data.InverterSerial)
	assert.Equal(t, domain.StatusNormal, data.Status)
	assert.InDelta(t, 1234.5, data.Ppv, 0.0001)
	assert.InDelta(t, 50.0, data.EacToday, 0.0001)
	assert.InDelta(t, 49.99, data.Fac, 0.0001)
	assert.InDelta(t, 100.0, data.WorkHours, 0.0001) // half-seconds to hours
	assert.InDelta(t, 302, data.FaultCode, 0.0001)
	assert.Equal(t, "0a00", data.DeratingMode)
	assert.Equal(t, "0201", data.WarningCode)
	assert.Equal(t, "0000", data.CheckStep)

	assert.Equal(t, "data", data.Kind())
	assert.Equal(t, "AH12345678", data.DeviceID())
}

func TestDecodeDataStatusValues(t *testing.T) {
	cases := []struct {
		raw  uint16
		want domain.DeviceStatus
	}{
		{0, domain.StatusWaiting},
		{1, domain.StatusNormal},
		{2, domain.StatusFault},
		{3, domain.StatusUnknown},
		{0xFFFF, domain.StatusUnknown},
	}

	for _, tc := range cases {
		reading, err := DecodePayload(MsgDataV50, newDataPayload(t, tc.raw))
		require.NoError(t, err)
		assert.Equal(t, tc.want, reading.(domain.DataReading).Status)
	}
}

func TestDecodeDataTooShort(t *testing.T) {
	payload := newDataPayload(t, 1)

	_, err := DecodePayload(MsgDataV51, payload[:100])

	var tooShort *PayloadTooShortError
	require.ErrorAs(t, err, &tooShort)
	assert.Equal(t, dataLen, tooShort.Expected)
	assert.Equal(t, 100, tooShort.Actual)
	assert.Contains(t, tooShort.Error(), "data_v51")
}

func TestDecodePing(t *testing.T) {
	reading, err := DecodePayload(MsgPing, []byte("AH12345678"))
	require.NoError(t, err)

	ping, ok := reading.(domain.PingReading)
	require.True(t, ok)
	assert.Equal(t, "AH12345678", ping.WifiSerial)
	assert.Equal(t, "ping", ping.Kind())
}

func TestDecodePingPaddedSerial(t *testing.T) {
	reading, err := DecodePayload(MsgPing, []byte("AH123\x00\x00\x00\x00\x00"))
	require.NoError(t, err)

	assert.Equal(t, "AH123", reading.(domain.PingReading).WifiSerial)
}

func TestDecodePingTooShort(t *testing.T) {
	_, err := DecodePayload(MsgPing, []byte("AH123"))

	var tooShort *PayloadTooShortError
	require.ErrorAs(t, err, &tooShort)
	assert.Equal(t, serialLen, tooShort.Expected)
	assert.Equal(t, 5, tooShort.Actual)
}

func TestDecodeAnnounceFull(t *testing.T) {
	payload := make([]byte, announceLen)
	copy(payload[0:10], "AH12345678")
	copy(payload[10:20], "NTC5678901")
	copy(payload[announceIdent2Off:], "ID00000002")
	copy(payload[announceMakeOff:], "   PV Inverter  ")
	copy(payload[announceModelOff:], "5000TL")

	for _, msgType := range []MsgType{MsgAnnounceV1, MsgAnnounceV50, MsgAnnounceV51} {
		reading, err := DecodePayload(msgType, payload)
		require.NoError(t, err)

		ann, ok := reading.(domain.AnnounceReading)
		require.True(t, ok)
		assert.Equal(t, "AH12345678", ann.WifiSerial)
		assert.Equal(t, "NTC5678901", ann.InverterSerial)
		assert.Equal(t, "ID00000002", ann.Ident2)
		assert.Equal(t, "   PV Inverter", ann.Make)
		assert.Equal(t, "5000TL", ann.Model)
		assert.Equal(t, "announce", ann.Kind())
	}
}

func TestDecodeAnnounceDegradesToSerialOnly(t *testing.T) {
	// A 10-byte announce is answered and decoded like a ping.
	reading, err := DecodePayload(MsgAnnounceV51, []byte("AH12345678"))
	require.NoError(t, err)

	ping, ok := reading.(domain.PingReading)
	require.True(t, ok)
	assert.Equal(t, "AH12345678", ping.WifiSerial)
}

func TestDecodeAnnounceTruncated(t *testing.T) {
	payload := make([]byte, 60)
	copy(payload, "AH12345678NTC5678901")

	_, err := DecodePayload(MsgAnnounceV1, payload)

	var tooShort *PayloadTooShortError
	require.ErrorAs(t, err, &tooShort)
	assert.Equal(t, announceLen, tooShort.Expected)
	assert.Equal(t, 60, tooShort.Actual)
}

func TestDecodeUnrecognizedTypeYieldsNothing(t *testing.T) {
	reading, err := DecodePayload(MsgType(0x9999), []byte("whatever"))

	assert.NoError(t, err)
	assert.Nil(t, reading)
}

func TestDecodeConfigTypesYieldNothing(t *testing.T) {
	for _, msgType := range []MsgType{MsgConfigV1, MsgConfigV51, MsgQueryV1, MsgQueryV51, MsgReboot, MsgConfigAckV50, MsgConfigAckV51} {
		reading, err := DecodePayload(msgType, []byte{0x01, 0x02})
		assert.NoError(t, err)
		assert.Nil(t, reading)
	}
}

func TestMsgTypeNames(t *testing.T) {
	want := map[MsgType]string{
		MsgAnnounceV1:   "announce_v1",
		MsgAnnounceV50:  "announce_v50",
		MsgAnnounceV51:  "announce_v51",
		MsgDataV1:       "data_v1",
		MsgDataV50:      "data_v50",
		MsgDataV51:      "data_v51",
		MsgPing:         "ping",
		MsgConfigV1:     "config_v1",
		MsgConfigV51:    "config_v51",
		MsgQueryV1:      "query_v1",
		MsgQueryV51:     "query_v51",
		MsgReboot:       "reboot",
		MsgConfigAckV50: "configack_v50",
		MsgConfigAckV51: "configack_v51",
	}
	require.Len(t, want, 14)

	seen := make(map[string]bool)
	for code, name := range want {
		assert.Equal(t, name, code.String())
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}

	assert.Equal(t, "unrecognized", MsgType(0x0042).String())
	assert.Equal(t, KindUnknown, MsgType(0x0042).Kind())
}

func TestMsgTypeKinds(t *testing.T) {
	assert.Equal(t, KindAnnounce, MsgAnnounceV50.Kind())
	assert.Equal(t, KindData, MsgDataV1.Kind())
	assert.Equal(t, KindPing, MsgPing.Kind())
	assert.Equal(t, KindConfig, MsgConfigV51.Kind())
	assert.Equal(t, KindQuery, MsgQueryV1.Kind())
	assert.Equal(t, KindReboot, MsgReboot.Kind())
	assert.Equal(t, KindConfigAck, MsgConfigAckV50.Kind())
	assert.Equal(t, KindConfigAck, MsgConfigAckV51.Kind())
}
