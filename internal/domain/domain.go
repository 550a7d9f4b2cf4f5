// Package domain provides core domain models and interfaces for the go-shine application.
package domain

import "context"

// DeviceStatus is the inverter operating state reported in a data block.
type DeviceStatus int

const (
	StatusWaiting DeviceStatus = 0
	StatusNormal  DeviceStatus = 1
	StatusFault   DeviceStatus = 2
	StatusUnknown DeviceStatus = -1
)

// String returns the string representation of the device status.
func (s DeviceStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusNormal:
		return "normal"
	case StatusFault:
		return "fault"
	default:
		return "unknown"
	}
}

// MarshalText makes the status serialize as its name.
func (s DeviceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reading is a decoded payload variant. Readings are immutable snapshots:
// one decode call produces one Reading, nothing accumulates.
type Reading interface {
	// DeviceID returns the wifi dongle serial the reading belongs to.
	DeviceID() string

	// Kind returns the reading kind ("ping", "announce", "data").
	Kind() string
}

// PingReading is the keepalive variant; it also stands in for announce
// payloads too short to carry the full identity block.
type PingReading struct {
	WifiSerial string `json:"wifiserial"`
}

func (r PingReading) DeviceID() string { return r.WifiSerial }
func (r PingReading) Kind() string     { return "ping" }

// AnnounceReading is the device identity block sent when a dongle first
// connects.
type AnnounceReading struct {
	WifiSerial     string `json:"wifiserial"`
	InverterSerial string `json:"inverterserial"`
	Ident2         string `json:"ident2"`
	Make           string `json:"make"`
	Model          string `json:"model"`
}

func (r AnnounceReading) DeviceID() string { return r.WifiSerial }
func (r AnnounceReading) Kind() string     { return "announce" }

// DataReading is a full telemetry snapshot in engineering units. Field
// order on the wire is fixed; see the decoder table.
type DataReading struct {
	WifiSerial     string       `json:"wifiserial"`
	InverterSerial string       `json:"inverterserial"`
	Status         DeviceStatus `json:"status"`

	Ppv  float64 `json:"ppv"`
	Vpv1 float64 `json:"vpv1"`
	Ipv1 float64 `json:"ipv1"`
	Ppv1 float64 `json:"ppv1"`
	Vpv2 float64 `json:"vpv2"`
	Ipv2 float64 `json:"ipv2"`
	Ppv2 float64 `json:"ppv2"`

	Pac  float64 `json:"pac"`
	Fac  float64 `json:"fac"`
	Vac1 float64 `json:"vac1"`
	Iac1 float64 `json:"iac1"`
	Pac1 float64 `json:"pac1"`
	Vac2 float64 `json:"vac2"`
	Iac2 float64 `json:"iac2"`
	Pac2 float64 `json:"pac2"`
	Vac3 float64 `json:"vac3"`
	Iac3 float64 `json:"iac3"`
	Pac3 float64 `json:"pac3"`

	EacToday  float64 `json:"eactoday"`
	EacTotal  float64 `json:"eactotal"`
	WorkHours float64 `json:"totworkhours"`

	Temperature float64 `json:"temperature"`
	IsoFault    float64 `json:"isofault"`
	GfciFault   float64 `json:"gfcifault"`
	DciFault    float64 `json:"dcifault"`
	VpvFault    float64 `json:"vpvfault"`
	VacFault    float64 `json:"vacfault"`
	FacFault    float64 `json:"facfault"`
	TmpFault    float64 `json:"tmpfault"`
	FaultCode   float64 `json:"faultcode"`
	IPMTemp     float64 `json:"ipmtemp"`
	PBusVolt    float64 `json:"pbusvolt"`
	NBusVolt    float64 `json:"nbusvolt"`

	// Hex-coded status words, preserved as lowercase hex strings.
	CheckStep    string `json:"checkstep"`
	ResetChk     string `json:"resetchk"`
	DeratingMode string `json:"deratingmode"`
	WarningCode  string `json:"warningcode"`
	WarningValue string `json:"warningvalue"`
}

func (r DataReading) DeviceID() string { return r.WifiSerial }
func (r DataReading) Kind() string     { return "data" }

// Sink receives decoded readings and device-liveness events. go-shine only
// calls it; transport and retry policy belong to the implementation.
type Sink interface {
	// Report publishes a reading for a device. Failures are logged by the
	// caller and never propagated to the socket path.
	Report(ctx context.Context, deviceID, kind string, reading Reading) error

	// DeviceIdle signals that a device stopped reporting; downstream is
	// expected to reset its topics to zero.
	DeviceIdle(deviceID string) error

	// DeviceOffline signals that no device has reported for the global
	// threshold.
	DeviceOffline() error

	// Close terminates the connection to the downstream system.
	Close() error
}
