package protocol

import "fmt"

// MsgType is the 16-bit message-type code from the frame header. The high
// byte carries the protocol generation (0x01, 0x50, 0x51), the low byte the
// record kind.
type MsgType uint16

// Known message-type codes.
const (
	MsgAnnounceV1   MsgType = 0x0103
	MsgAnnounceV50  MsgType = 0x5003
	MsgAnnounceV51  MsgType = 0x5103
	MsgDataV1       MsgType = 0x0104
	MsgDataV50      MsgType = 0x5004
	MsgDataV51      MsgType = 0x5104
	MsgPing         MsgType = 0x0116
	MsgConfigV1     MsgType = 0x0118
	MsgConfigV51    MsgType = 0x5118
	MsgQueryV1      MsgType = 0x0119
	MsgQueryV51     MsgType = 0x5119
	MsgReboot       MsgType = 0x0120
	MsgConfigAckV50 MsgType = 0x5029
	MsgConfigAckV51 MsgType = 0x5129
)

// Kind groups message-type codes by their semantic role.
type Kind int

const (
	KindUnknown Kind = iota
	KindAnnounce
	KindData
	KindPing
	KindConfig
	KindQuery
	KindReboot
	KindConfigAck
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindData:
		return "data"
	case KindPing:
		return "ping"
	case KindConfig:
		return "config"
	case KindQuery:
		return "query"
	case KindReboot:
		return "reboot"
	case KindConfigAck:
		return "configack"
	default:
		return "unknown"
	}
}

// msgNames maps every known code to a distinct name. Unknown codes are
// valid on the wire; they just carry no decodable payload.
var msgNames = map[MsgType]string{
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

// Kind returns the semantic role of the message-type code.
func (t MsgType) Kind() Kind {
	switch t {
	case MsgAnnounceV1, MsgAnnounceV50, MsgAnnounceV51:
		return KindAnnounce
	case MsgDataV1, MsgDataV50, MsgDataV51:
		return KindData
	case MsgPing:
		return KindPing
	case MsgConfigV1, MsgConfigV51:
		return KindConfig
	case MsgQueryV1, MsgQueryV51:
		return KindQuery
	case MsgReboot:
		return KindReboot
	case MsgConfigAckV50, MsgConfigAckV51:
		return KindConfigAck
	default:
		return KindUnknown
	}
}

// String returns the distinct name for a known code, or "unrecognized".
func (t MsgType) String() string {
	if name, ok := msgNames[t]; ok {
		return name
	}
	return "unrecognized"
}

// GoString makes debug output show the hex code alongside the name.
func (t MsgType) GoString() string {
	return fmt.Sprintf("0x%04x(%s)", uint16(t), t.String())
}
