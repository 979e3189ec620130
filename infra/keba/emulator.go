package keba

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	corekeba "github.com/gridsteer/kecc/core/keba"
	"github.com/gridsteer/kecc/infra/logger"
)

// Emulator answers the KeContact UDP dialect on its own loopback address so
// the full stack can be exercised without hardware. Each emulated charger
// needs a distinct IP (127.0.0.2, 127.0.0.3, ...) because real chargers all
// answer on the same port.
type Emulator struct {
	ip   string
	port int
	log  logger.Logger

	conn *net.UDPConn

	mu          sync.Mutex
	serial      string
	product     string
	firmware    string
	state       int64
	plug        int64
	enableSys   int64
	enableUser  int64
	maxCurr     int64
	currHW      int64
	currUser    int64
	currFS      int64
	setenergy   int64
	output      int64
	input       int64
	power       int64
	ePres       int64
	eTotal      int64
	sessionID   int64
	rfidTag     string
	rfidClass   string
	lastDisplay string
	silent      bool
	sec         int64
}

// EmulatorOption adjusts the emulated charger.
type EmulatorOption func(*Emulator)

// WithSerial sets the reported serial number.
func WithSerial(serial string) EmulatorOption {
	return func(e *Emulator) { e.serial = serial }
}

// WithHardwareLimit sets the reported Curr HW in milliamps.
func WithHardwareLimit(milliamps int64) EmulatorOption {
	return func(e *Emulator) { e.currHW = milliamps }
}

// NewEmulator creates a stopped emulator for ip:port.
func NewEmulator(ip string, port int, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		ip:         ip,
		port:       port,
		log:        logger.New("keba_emulator"),
		serial:     "18711111",
		product:    "KC-P30-ES240030-E00",
		firmware:   "P30 v 3.10.57",
		state:      corekeba.StateReady,
		plug:       corekeba.PlugStationEVLocked,
		enableSys:  1,
		enableUser: 1,
		maxCurr:    32000,
		currHW:     32000,
		currUser:   32000,
		power:      0,
		eTotal:     10000000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start binds the socket and begins answering.
func (e *Emulator) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(e.ip), Port: e.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("keba: emulator bind %s:%d: %w", e.ip, e.port, err)
	}
	e.conn = conn
	go e.serve(conn)
	e.log.Infof("emulated charger %s listening on %s:%d", e.serial, e.ip, e.port)
	return nil
}

// Stop closes the socket.
func (e *Emulator) Stop() {
	if e.conn != nil {
		_ = e.conn.Close()
	}
}

// IP returns the address the emulator answers on.
func (e *Emulator) IP() string { return e.ip }

// SetState scripts the charger state code.
func (e *Emulator) SetState(state int64) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// SetPlug scripts the plug code.
func (e *Emulator) SetPlug(plug int64) {
	e.mu.Lock()
	e.plug = plug
	e.mu.Unlock()
}

// SetPower scripts the active power in watts.
func (e *Emulator) SetPower(watts int64) {
	e.mu.Lock()
	e.power = watts
	e.mu.Unlock()
}

// SetSessionEnergy scripts E pres in 0.1 Wh units.
func (e *Emulator) SetSessionEnergy(units int64) {
	e.mu.Lock()
	e.ePres = units
	e.mu.Unlock()
}

// SetSilent makes the emulator swallow commands, for timeout tests.
func (e *Emulator) SetSilent(silent bool) {
	e.mu.Lock()
	e.silent = silent
	e.mu.Unlock()
}

// UserCurrent returns the last accepted curr value in milliamps.
func (e *Emulator) UserCurrent() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currUser
}

// LastDisplay returns the text of the last display command.
func (e *Emulator) LastDisplay() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDisplay
}

func (e *Emulator) serve(conn *net.UDPConn) {
	buf := make([]byte, 1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reply := e.handle(strings.TrimSpace(string(buf[:n])))
		if reply == "" {
			continue
		}
		if _, err := conn.WriteToUDP([]byte(reply), src); err != nil {
			e.log.Errorf("emulator reply to %s failed: %v", src, err)
		}
	}
}

func (e *Emulator) handle(command string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.silent {
		return ""
	}
	e.sec++

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "i":
		return "KEBA KeContact P30"
	case "report":
		if len(fields) != 2 {
			return "TCH-ERR"
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return "TCH-ERR"
		}
		return e.report(id)
	case "ena":
		if len(fields) == 2 && fields[1] == "0" {
			e.enableUser = 0
			if e.state == corekeba.StateCharging {
				e.state = corekeba.StateNotReady
			}
		} else {
			e.enableUser = 1
		}
		return "TCH-OK :done"
	case "curr":
		if len(fields) != 2 {
			return "TCH-ERR"
		}
		ma, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return "TCH-ERR"
		}
		if ma > e.currHW {
			ma = e.currHW
		}
		e.currUser = ma
		return "TCH-OK :done"
	case "setenergy":
		if len(fields) != 2 {
			return "TCH-ERR"
		}
		units, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return "TCH-ERR"
		}
		e.setenergy = units
		return "TCH-OK :done"
	case "output":
		if len(fields) != 2 {
			return "TCH-ERR"
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return "TCH-ERR"
		}
		e.output = v
		return "TCH-OK :done"
	case "start":
		e.state = corekeba.StateCharging
		e.sessionID++
		if len(fields) > 1 {
			e.rfidTag = fields[1]
		}
		if len(fields) > 2 {
			e.rfidClass = fields[2]
		}
		return "TCH-OK :done"
	case "stop":
		e.state = corekeba.StateReady
		return "TCH-OK :done"
	case "unlock":
		e.plug = corekeba.PlugStation
		return "TCH-OK :done"
	case "display":
		if len(fields) < 6 {
			return "TCH-ERR"
		}
		e.lastDisplay = fields[5]
		return "TCH-OK :done"
	default:
		return "TCH-ERR"
	}
}

func (e *Emulator) report(id int) string {
	var fields map[string]any
	switch id {
	case corekeba.ReportIdentity:
		fields = map[string]any{
			"ID":         "1",
			"Product":    e.product,
			"Serial":     e.serial,
			"Firmware":   e.firmware,
			"COM-module": 0,
			"Backend":    0,
			"DIP-Sw1":    "38",
			"DIP-Sw2":    "0",
			"Sec":        e.sec,
		}
	case corekeba.ReportState:
		fields = map[string]any{
			"ID":          "2",
			"State":       e.state,
			"Error1":      0,
			"Error2":      0,
			"Plug":        e.plug,
			"Enable sys":  e.enableSys,
			"Enable user": e.enableUser,
			"Max curr":    e.maxCurr,
			"Max curr %":  1000,
			"Curr HW":     e.currHW,
			"Curr user":   e.currUser,
			"Curr FS":     e.currFS,
			"Tmo FS":      0,
			"Curr timer":  0,
			"Tmo CT":      0,
			"Setenergy":   e.setenergy,
			"Output":      e.output,
			"Input":       e.input,
			"Serial":      e.serial,
			"Sec":         e.sec,
		}
	case corekeba.ReportMeasurements:
		fields = map[string]any{
			"ID":      "3",
			"U1":      230,
			"U2":      230,
			"U3":      230,
			"I1":      e.currUser,
			"I2":      e.currUser,
			"I3":      e.currUser,
			"P":       e.power,
			"PF":      1000,
			"E pres":  e.ePres,
			"E total": e.eTotal,
			"Serial":  e.serial,
			"Sec":     e.sec,
		}
	case corekeba.ReportSession:
		fields = map[string]any{
			"ID":         "100",
			"Session ID": e.sessionID,
			"Curr HW":    e.currHW,
			"E start":    0,
			"E pres":     e.ePres,
			"started":    "2024-01-02 10:00:00.000",
			"ended":      "0",
			"reason":     0,
			"RFID tag":   e.rfidTag,
			"RFID class": e.rfidClass,
			"Serial":     e.serial,
			"Sec":        e.sec,
		}
	default:
		return "TCH-ERR"
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return "TCH-ERR"
	}
	return string(payload)
}
