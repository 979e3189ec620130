package keba

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Report identifiers understood by this package.
const (
	ReportIdentity     = 1
	ReportState        = 2
	ReportMeasurements = 3
	ReportSession      = 100
)

// Charger state codes (report 2, "State").
const (
	StateStarting     = 0
	StateNotReady     = 1
	StateReady        = 2
	StateCharging     = 3
	StateError        = 4
	StateAuthRejected = 5
)

// Plug codes (report 2, "Plug"). The value is a bitfield; only these
// combinations are produced by the hardware.
const (
	PlugUnplugged       = 0
	PlugStation         = 1
	PlugStationLocked   = 3
	PlugStationEV       = 5
	PlugStationEVLocked = 7
)

var stateDescriptions = map[int64]string{
	StateStarting:     "Starting",
	StateNotReady:     "Not ready",
	StateReady:        "Ready",
	StateCharging:     "Charging",
	StateError:        "Error",
	StateAuthRejected: "Auth rejected",
}

var plugDescriptions = map[int64]string{
	PlugUnplugged:       "unplugged",
	PlugStation:         "plugged on station",
	PlugStationLocked:   "plugged on station (locked)",
	PlugStationEV:       "plugged on station and EV",
	PlugStationEVLocked: "plugged on station and EV (locked)",
}

// StateDescription renders a state code as text. Codes outside the documented
// range render as "Unknown state N".
func StateDescription(state int64) string {
	if s, ok := stateDescriptions[state]; ok {
		return s
	}
	return fmt.Sprintf("Unknown state %d", state)
}

// PlugDescription renders a plug code as text. Combinations the hardware does
// not produce render as "unknown".
func PlugDescription(plug int64) string {
	if s, ok := plugDescriptions[plug]; ok {
		return s
	}
	return "unknown"
}

// Report1 carries product identity. All fields are optional on the wire.
type Report1 struct {
	Product    string
	Serial     string
	Firmware   string
	COMModule  *int64
	Backend    *int64
	DIPSwitch1 *int64
	DIPSwitch2 *int64
}

// NewReport1 maps a decoded response onto a Report1.
func NewReport1(fields map[string]any) Report1 {
	return Report1{
		Product:    stringField(fields, "Product"),
		Serial:     stringField(fields, "Serial"),
		Firmware:   stringField(fields, "Firmware"),
		COMModule:  intField(fields, "COM-module"),
		Backend:    intField(fields, "Backend"),
		DIPSwitch1: intField(fields, "DIP-Sw1"),
		DIPSwitch2: intField(fields, "DIP-Sw2"),
	}
}

// AuthRequired reports whether RFID authorization is configured, encoded as
// bit 4 of the second DIP switch block.
func (r Report1) AuthRequired() bool {
	return r.DIPSwitch2 != nil && *r.DIPSwitch2&0x10 != 0
}

// Report2 carries the operational state of the charger. Currents are in
// milliamps.
type Report2 struct {
	State          *int64
	Error1         *int64
	Error2         *int64
	Plug           *int64
	EnableSys      *int64
	EnableUser     *int64
	MaxCurr        *int64
	MaxCurrPercent *int64
	CurrHW         *int64
	CurrUser       *int64
	CurrFS         *int64
	TmoFS          *int64
	CurrTimer      *int64
	TmoCT          *int64
	Setenergy      *int64
	Output         *int64
	Input          *int64
	Serial         string
	Sec            *int64
}

// NewReport2 maps a decoded response onto a Report2.
func NewReport2(fields map[string]any) Report2 {
	return Report2{
		State:          intField(fields, "State"),
		Error1:         intField(fields, "Error1"),
		Error2:         intField(fields, "Error2"),
		Plug:           intField(fields, "Plug"),
		EnableSys:      intField(fields, "Enable sys"),
		EnableUser:     intField(fields, "Enable user"),
		MaxCurr:        intField(fields, "Max curr"),
		MaxCurrPercent: intField(fields, "Max curr %"),
		CurrHW:         intField(fields, "Curr HW"),
		CurrUser:       intField(fields, "Curr user"),
		CurrFS:         intField(fields, "Curr FS"),
		TmoFS:          intField(fields, "Tmo FS"),
		CurrTimer:      intField(fields, "Curr timer"),
		TmoCT:          intField(fields, "Tmo CT"),
		Setenergy:      intField(fields, "Setenergy"),
		Output:         intField(fields, "Output"),
		Input:          intField(fields, "Input"),
		Serial:         stringField(fields, "Serial"),
		Sec:            intField(fields, "Sec"),
	}
}

// FailsafeActive reports whether the failsafe current is armed.
func (r Report2) FailsafeActive() bool {
	return r.CurrFS != nil && *r.CurrFS > 0
}

// AuthReq reports input bit 4: an authorization request is pending.
func (r Report2) AuthReq() bool {
	return r.Input != nil && *r.Input&0x10 != 0
}

// AuthOn reports input bit 3: authorization is enabled.
func (r Report2) AuthOn() bool {
	return r.Input != nil && *r.Input&0x08 != 0
}

// X2PhaseSwitch reports input bit 5, the phase switch signal on X2.
func (r Report2) X2PhaseSwitch() bool {
	return r.Input != nil && *r.Input&0x20 != 0
}

// Charging reports whether the charger is actively delivering energy.
func (r Report2) Charging() bool {
	return r.State != nil && *r.State == StateCharging
}

// StateDescription renders the state code; "Unknown" when absent.
func (r Report2) StateDescription() string {
	if r.State == nil {
		return "Unknown"
	}
	return StateDescription(*r.State)
}

// PlugDescription renders the plug code; "Unknown" when absent.
func (r Report2) PlugDescription() string {
	if r.Plug == nil {
		return "Unknown"
	}
	return PlugDescription(*r.Plug)
}

// Report3 carries electrical measurements: voltages in volts, currents in
// milliamps, power in watts, energy in 0.1 Wh units.
type Report3 struct {
	U1     *int64
	U2     *int64
	U3     *int64
	I1     *int64
	I2     *int64
	I3     *int64
	P      *int64
	PF     *int64
	EPres  *int64
	ETotal *int64
	Serial string
	Sec    *int64
}

// NewReport3 maps a decoded response onto a Report3.
func NewReport3(fields map[string]any) Report3 {
	return Report3{
		U1:     intField(fields, "U1"),
		U2:     intField(fields, "U2"),
		U3:     intField(fields, "U3"),
		I1:     intField(fields, "I1"),
		I2:     intField(fields, "I2"),
		I3:     intField(fields, "I3"),
		P:      intField(fields, "P"),
		PF:     intField(fields, "PF"),
		EPres:  intField(fields, "E pres"),
		ETotal: intField(fields, "E total"),
		Serial: stringField(fields, "Serial"),
		Sec:    intField(fields, "Sec"),
	}
}

// PowerKW converts the raw power reading to kilowatts.
func (r Report3) PowerKW() *float64 {
	return scaled(r.P, 1000.0)
}

// SessionEnergyKWh converts the present session energy to kilowatt hours.
func (r Report3) SessionEnergyKWh() *float64 {
	return scaled(r.EPres, 10000.0)
}

// TotalEnergyKWh converts the lifetime energy counter to kilowatt hours.
func (r Report3) TotalEnergyKWh() *float64 {
	return scaled(r.ETotal, 10000.0)
}

// CurrentA converts a raw phase current in milliamps to amps.
func CurrentA(milliamps *int64) *float64 {
	return scaled(milliamps, 1000.0)
}

// Report100 carries charging session bookkeeping. Not all firmware revisions
// implement it; its absence is handled by callers, not here.
type Report100 struct {
	SessionID *int64
	CurrHW    *int64
	EStart    *int64
	EPres     *int64
	Started   string
	Ended     string
	Reason    *int64
	RFIDTag   string
	RFIDClass string
	Serial    string
	Sec       *int64
}

// NewReport100 maps a decoded response onto a Report100.
func NewReport100(fields map[string]any) Report100 {
	return Report100{
		SessionID: intField(fields, "Session ID"),
		CurrHW:    intField(fields, "Curr HW"),
		EStart:    intField(fields, "E start"),
		EPres:     intField(fields, "E pres"),
		Started:   stringField(fields, "started"),
		Ended:     stringField(fields, "ended"),
		Reason:    intField(fields, "reason"),
		RFIDTag:   stringField(fields, "RFID tag"),
		RFIDClass: stringField(fields, "RFID class"),
		Serial:    stringField(fields, "Serial"),
		Sec:       intField(fields, "Sec"),
	}
}

// EStartKWh converts the session start energy to kilowatt hours.
func (r Report100) EStartKWh() *float64 {
	return scaled(r.EStart, 10000.0)
}

func scaled(v *int64, divisor float64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v) / divisor
	return &f
}

// intField extracts an optional integer. The firmware mostly sends JSON
// numbers but encodes a few fields, notably the DIP switch blocks, as
// strings.
func intField(fields map[string]any, key string) *int64 {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
		if f, err := n.Float64(); err == nil {
			i := int64(f)
			return &i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return &i
		}
	case float64:
		i := int64(n)
		return &i
	}
	return nil
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}
