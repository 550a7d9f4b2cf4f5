// Package protocol implements the wire protocol spoken by ShineWiFi-style
// inverter dongles: outer frame codec, payload decoding and the reply
// mapping that keeps a device streaming.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	// HeaderLen is the fixed big-endian frame header:
	// counter(2) protocolVersion(2) size(2) type(2).
	HeaderLen = 8

	// crcLen is the CRC16/Modbus trailer.
	crcLen = 2

	// sizeOverhead is included in the header size field on top of the
	// payload length (it accounts for the type word).
	sizeOverhead = 2

	// CRC16 algorithm constants.
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)

// xorKey is the repeating obfuscation key applied to the payload. XOR is
// its own inverse, so one routine covers both directions.
var xorKey = []byte("Growatt")

// crcTable is shared by Encode and Decode.
var crcTable = crc16.MakeTable(crc16.Params{
	Poly:   crcPolynomial,
	Init:   crcInitial,
	RefIn:  true,
	RefOut: true,
	XorOut: 0,
})

// Frame is a decoded wire frame. Payload holds the de-obfuscated bytes.
type Frame struct {
	Counter         uint16
	ProtocolVersion uint16
	Size            uint16
	Type            MsgType
	Payload         []byte
	CRC             uint16
	CRCOk           bool

	// Raw keeps the exact received bytes; the ping reply echoes them.
	Raw []byte
}

// FramingError reports a buffer that cannot hold a complete frame.
type FramingError struct {
	Reason    string
	Size      int
	Available int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s (size=%d, available=%d)", e.Reason, e.Size, e.Available)
}

// FrameLen returns the total number of bytes a frame with the given header
// size field occupies on the wire: header + payload + CRC.
func FrameLen(size uint16) int {
	return HeaderLen + int(size) - sizeOverhead + crcLen
}

// Decode parses one complete frame from data. The payload is
// de-obfuscated and the CRC recomputed; a CRC mismatch is reported via
// Frame.CRCOk rather than as an error.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderLen {
		return nil, &FramingError{Reason: "short header", Size: 0, Available: len(data)}
	}

	size := binary.BigEndian.Uint16(data[4:6])
	if size < sizeOverhead {
		return nil, &FramingError{Reason: "size field below minimum", Size: int(size), Available: len(data)}
	}

	total := FrameLen(size)
	if len(data) < total {
		return nil, &FramingError{Reason: "declared size exceeds received bytes", Size: int(size), Available: len(data)}
	}

	frame := &Frame{
		Counter:         binary.BigEndian.Uint16(data[0:2]),
		ProtocolVersion: binary.BigEndian.Uint16(data[2:4]),
		Size:            size,
		Type:            MsgType(binary.BigEndian.Uint16(data[6:8])),
		Raw:             data[:total],
	}

	payloadEnd := total - crcLen
	frame.Payload = Obfuscate(data[HeaderLen:payloadEnd])
	frame.CRC = binary.BigEndian.Uint16(data[payloadEnd:total])
	frame.CRCOk = crc16.Checksum(data[:payloadEnd], crcTable) == frame.CRC

	return frame, nil
}

// Encode builds a complete frame: header, obfuscated payload, CRC trailer.
// Decode(Encode(c, v, t, p)) recovers the inputs with CRCOk set.
func Encode(counter, protocolVersion uint16, msgType MsgType, payload []byte) []byte {
	size := uint16(len(payload) + sizeOverhead)
	buf := make([]byte, FrameLen(size))

	binary.BigEndian.PutUint16(buf[0:2], counter)
	binary.BigEndian.PutUint16(buf[2:4], protocolVersion)
	binary.BigEndian.PutUint16(buf[4:6], size)
	binary.BigEndian.PutUint16(buf[6:8], uint16(msgType))
	copy(buf[HeaderLen:], Obfuscate(payload))

	crcPos := len(buf) - crcLen
	binary.BigEndian.PutUint16(buf[crcPos:], crc16.Checksum(buf[:crcPos], crcTable))

	return buf
}

// Obfuscate XORs data with the repeating key, key index zero at data[0].
// The operation is symmetric.
func Obfuscate(data []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ xorKey[i%len(xorKey)]
	}
	return out
}

// Checksum computes the CRC16/Modbus of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
