package protocol

// genericAck is the complete pre-built acknowledgement frame the firmware
// accepts for every record it does not expect a specific reply to. It must
// match byte-for-byte; an unexpected or missing reply stops the stream.
var genericAck = []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x01, 0x04, 0x00}

// Reply maps an inbound decoded frame to the exact reply bytes the dongle
// expects. Pure function, exactly three cases:
//
//   - ping: echo the received bytes unmodified
//   - announce: a frame reusing the inbound counter, protocol version and
//     type, with a single zero byte as payload
//   - everything else, recognized or not: the generic ack
func Reply(frame *Frame) []byte {
	switch frame.Type.Kind() {
	case KindPing:
		return frame.Raw
	case KindAnnounce:
		return Encode(frame.Counter, frame.ProtocolVersion, frame.Type, []byte{0x00})
	default:
		return genericAck
	}
}

// GenericAck returns a copy of the fixed acknowledgement frame.
func GenericAck() []byte {
	out := make([]byte, len(genericAck))
	copy(out, genericAck)
	return out
}
