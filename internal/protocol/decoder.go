package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/resident-x/go-shine/internal/domain"
)

const (
	serialLen = 10

	// Announce payload offsets. The identity block sits behind two
	// reserved gaps the firmware never populates consistently.
	announceIdent2Off = 78
	announceMakeOff   = 88
	announceMakeLen   = 20
	announceModelOff  = 170
	announceModelLen  = 8
	announceLen       = announceModelOff + announceModelLen

	// Data payload: serials at 0/10, 51 reserved bytes, then the status
	// word followed by the ordered numeric block.
	dataStatusOff = 71
	dataFieldsOff = dataStatusOff + 2
)

// PayloadTooShortError reports a payload truncated below the fixed length
// its message type requires.
type PayloadTooShortError struct {
	Type     MsgType
	Expected int
	Actual   int
}

func (e *PayloadTooShortError) Error() string {
	return fmt.Sprintf("payload too short for %s: expected %d bytes, got %d", e.Type, e.Expected, e.Actual)
}

// dataField describes one entry of the ordered numeric block. Width is 2
// or 4 bytes, values are big-endian. Hex fields keep their raw value as a
// lowercase hex string instead of being scaled.
type dataField struct {
	name   string
	width  int
	divide float64
	hex    bool
	set    func(*domain.DataReading, float64)
	setHex func(*domain.DataReading, string)
}

// dataFields is the wire contract for the data block: order, widths and
// divisors must match the firmware exactly. Run-hours arrive in
// half-seconds, hence the 7200 divisor.
var dataFields = []dataField{
	{name: "ppv", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Ppv = v }},
	{name: "vpv1", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Vpv1 = v }},
	{name: "ipv1", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Ipv1 = v }},
	{name: "ppv1", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Ppv1 = v }},
	{name: "vpv2", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Vpv2 = v }},
	{name: "ipv2", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Ipv2 = v }},
	{name: "ppv2", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Ppv2 = v }},
	{name: "pac", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Pac = v }},
	{name: "fac", width: 2, divide: 100, set: func(d *domain.DataReading, v float64) { d.Fac = v }},
	{name: "vac1", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Vac1 = v }},
	{name: "iac1", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Iac1 = v }},
	{name: "pac1", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Pac1 = v }},
	{name: "vac2", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Vac2 = v }},
	{name: "iac2", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Iac2 = v }},
	{name: "pac2", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Pac2 = v }},
	{name: "vac3", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Vac3 = v }},
	{name: "iac3", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Iac3 = v }},
	{name: "pac3", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.Pac3 = v }},
	{name: "eactoday", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.EacToday = v }},
	{name: "eactotal", width: 4, divide: 10, set: func(d *domain.DataReading, v float64) { d.EacTotal = v }},
	{name: "totworkhours", width: 4, divide: 7200, set: func(d *domain.DataReading, v float64) { d.WorkHours = v }},
	{name: "temperature", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.Temperature = v }},
	{name: "isofault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.IsoFault = v }},
	{name: "gfcifault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.GfciFault = v }},
	{name: "dcifault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.DciFault = v }},
	{name: "vpvfault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.VpvFault = v }},
	{name: "vacfault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.VacFault = v }},
	{name: "facfault", width: 2, divide: 100, set: func(d *domain.DataReading, v float64) { d.FacFault = v }},
	{name: "tmpfault", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.TmpFault = v }},
	{name: "faultcode", width: 2, divide: 1, set: func(d *domain.DataReading, v float64) { d.FaultCode = v }},
	{name: "ipmtemp", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.IPMTemp = v }},
	{name: "pbusvolt", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.PBusVolt = v }},
	{name: "nbusvolt", width: 2, divide: 10, set: func(d *domain.DataReading, v float64) { d.NBusVolt = v }},
	{name: "checkstep", width: 2, hex: true, setHex: func(d *domain.DataReading, v string) { d.CheckStep = v }},
	{name: "resetchk", width: 2, hex: true, setHex: func(d *domain.DataReading, v string) { d.ResetChk = v }},
	{name: "deratingmode", width: 2, hex: true, setHex: func(d *domain.DataReading, v string) { d.DeratingMode = v }},
	{name: "warningcode", width: 2, hex: true, setHex: func(d *domain.DataReading, v string) { d.WarningCode = v }},
	{name: "warningvalue", width: 2, hex: true, setHex: func(d *domain.DataReading, v string) { d.WarningValue = v }},
}

// dataLen is the minimum data payload length implied by the field table.
var dataLen = func() int {
	n := dataFieldsOff
	for _, f := range dataFields {
		n += f.width
	}
	return n
}()

// DecodePayload interprets a de-obfuscated payload according to its
// message type. Unrecognized types yield (nil, nil): the frame is still
// valid and still gets a reply.
func DecodePayload(msgType MsgType, payload []byte) (domain.Reading, error) {
	switch msgType.Kind() {
	case KindPing:
		return decodePing(msgType, payload)
	case KindAnnounce:
		return decodeAnnounce(msgType, payload)
	case KindData:
		return decodeData(msgType, payload)
	default:
		return nil, nil
	}
}

func decodePing(msgType MsgType, payload []byte) (domain.Reading, error) {
	if len(payload) < serialLen {
		return nil, &PayloadTooShortError{Type: msgType, Expected: serialLen, Actual: len(payload)}
	}
	return domain.PingReading{WifiSerial: cleanSerial(payload[:serialLen])}, nil
}

func decodeAnnounce(msgType MsgType, payload []byte) (domain.Reading, error) {
	// Short announce payloads carry the wifi serial only.
	if len(payload) <= serialLen {
		if len(payload) < serialLen {
			return nil, &PayloadTooShortError{Type: msgType, Expected: serialLen, Actual: len(payload)}
		}
		return domain.PingReading{WifiSerial: cleanSerial(payload[:serialLen])}, nil
	}

	if len(payload) < announceLen {
		return nil, &PayloadTooShortError{Type: msgType, Expected: announceLen, Actual: len(payload)}
	}

	return domain.AnnounceReading{
		WifiSerial:     cleanSerial(payload[:serialLen]),
		InverterSerial: cleanSerial(payload[serialLen : 2*serialLen]),
		Ident2:         cleanSerial(payload[announceIdent2Off : announceIdent2Off+serialLen]),
		Make:           cleanSerial(payload[announceMakeOff : announceMakeOff+announceMakeLen]),
		Model:          cleanSerial(payload[announceModelOff : announceModelOff+announceModelLen]),
	}, nil
}

func decodeData(msgType MsgType, payload []byte) (domain.Reading, error) {
	if len(payload) < dataLen {
		return nil, &PayloadTooShortError{Type: msgType, Expected: dataLen, Actual: len(payload)}
	}

	reading := domain.DataReading{
		WifiSerial:     cleanSerial(payload[:serialLen]),
		InverterSerial: cleanSerial(payload[serialLen : 2*serialLen]),
		Status:         decodeStatus(binary.BigEndian.Uint16(payload[dataStatusOff:])),
	}

	off := dataFieldsOff
	for _, f := range dataFields {
		var raw uint64
		if f.width == 4 {
			raw = uint64(binary.BigEndian.Uint32(payload[off:]))
		} else {
			raw = uint64(binary.BigEndian.Uint16(payload[off:]))
		}
		if f.hex {
			f.setHex(&reading, fmt.Sprintf("%04x", raw))
		} else {
			f.set(&reading, float64(raw)/f.divide)
		}
		off += f.width
	}

	return reading, nil
}

func decodeStatus(raw uint16) domain.DeviceStatus {
	switch raw {
	case 0:
		return domain.StatusWaiting
	case 1:
		return domain.StatusNormal
	case 2:
		return domain.StatusFault
	default:
		return domain.StatusUnknown
	}
}

// cleanSerial strips non-printable bytes and trailing padding from a
// fixed-width serial field.
func cleanSerial(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	return strings.TrimRight(b.String(), "\x00 ")
}
