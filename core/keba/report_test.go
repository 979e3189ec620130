package keba

import "testing"

func decodeFields(t *testing.T, raw string) map[string]any {
	t.Helper()
	resp := DecodeResponse(raw)
	if !resp.IsJSON {
		t.Fatalf("expected JSON payload: %q", raw)
	}
	return resp.Fields
}

func TestNewReport1(t *testing.T) {
	fields := decodeFields(t, `{"ID": "1", "Product": "KC-P30-ES240030-E00", "Serial": "12345678", "Firmware": "P30 v 3.10.57", "COM-module": 0, "Backend": 0, "DIP-Sw1": "38", "DIP-Sw2": "16"}`)
	r := NewReport1(fields)
	if r.Product != "KC-P30-ES240030-E00" {
		t.Fatalf("unexpected product %q", r.Product)
	}
	if r.Serial != "12345678" {
		t.Fatalf("unexpected serial %q", r.Serial)
	}
	if r.DIPSwitch2 == nil || *r.DIPSwitch2 != 16 {
		t.Fatalf("DIP-Sw2 string form not parsed: %v", r.DIPSwitch2)
	}
	// 16 == 0x10, bit 4 set.
	if !r.AuthRequired() {
		t.Fatal("expected auth required")
	}
}

func TestReport1AuthNotRequired(t *testing.T) {
	r := NewReport1(decodeFields(t, `{"ID": "1", "DIP-Sw2": 0}`))
	if r.AuthRequired() {
		t.Fatal("expected auth not required")
	}
	if (Report1{}).AuthRequired() {
		t.Fatal("missing DIP switch must not require auth")
	}
}

func TestNewReport2(t *testing.T) {
	fields := decodeFields(t, `{"ID": "2", "State": 3, "Plug": 7, "Enable sys": 1, "Enable user": 1, "Max curr": 16000, "Curr HW": 20000, "Curr user": 16000, "Curr FS": 10000, "Input": 56, "Serial": "12345678", "Sec": 4711}`)
	r := NewReport2(fields)
	if r.State == nil || *r.State != StateCharging {
		t.Fatalf("unexpected state %v", r.State)
	}
	if !r.Charging() {
		t.Fatal("expected charging")
	}
	if r.StateDescription() != "Charging" {
		t.Fatalf("unexpected state text %q", r.StateDescription())
	}
	if r.PlugDescription() != "plugged on station and EV (locked)" {
		t.Fatalf("unexpected plug text %q", r.PlugDescription())
	}
	if r.CurrHW == nil || *r.CurrHW != 20000 {
		t.Fatalf("unexpected Curr HW %v", r.CurrHW)
	}
	if !r.FailsafeActive() {
		t.Fatal("Curr FS > 0 must arm failsafe")
	}
	// Input 56 == 0x38: bits 3, 4 and 5 set.
	if !r.AuthReq() || !r.AuthOn() || !r.X2PhaseSwitch() {
		t.Fatal("input bits not decoded")
	}
}

func TestReport2Defaults(t *testing.T) {
	r := NewReport2(decodeFields(t, `{"ID": "2"}`))
	if r.StateDescription() != "Unknown" {
		t.Fatalf("unexpected state text %q", r.StateDescription())
	}
	if r.PlugDescription() != "Unknown" {
		t.Fatalf("unexpected plug text %q", r.PlugDescription())
	}
	if r.Charging() || r.FailsafeActive() || r.AuthReq() || r.AuthOn() || r.X2PhaseSwitch() {
		t.Fatal("missing fields must decode to false")
	}
}

func TestStateDescriptions(t *testing.T) {
	cases := map[int64]string{
		0: "Starting",
		1: "Not ready",
		2: "Ready",
		3: "Charging",
		4: "Error",
		5: "Auth rejected",
		9: "Unknown state 9",
	}
	for code, want := range cases {
		if got := StateDescription(code); got != want {
			t.Fatalf("state %d: expected %q got %q", code, want, got)
		}
	}
}

func TestPlugDescriptions(t *testing.T) {
	cases := map[int64]string{
		0: "unplugged",
		1: "plugged on station",
		3: "plugged on station (locked)",
		5: "plugged on station and EV",
		7: "plugged on station and EV (locked)",
		2: "unknown",
		4: "unknown",
		6: "unknown",
	}
	for code, want := range cases {
		if got := PlugDescription(code); got != want {
			t.Fatalf("plug %d: expected %q got %q", code, want, got)
		}
	}
}

func TestNewReport3Scaling(t *testing.T) {
	fields := decodeFields(t, `{"ID": "3", "U1": 230, "U2": 231, "U3": 229, "I1": 15990, "I2": 16010, "I3": 16000, "P": 7360, "PF": 998, "E pres": 25000, "E total": 1250000, "Serial": "12345678", "Sec": 4711}`)
	r := NewReport3(fields)
	if p := r.PowerKW(); p == nil || *p != 7.36 {
		t.Fatalf("expected 7.36 kW got %v", p)
	}
	// 25000 raw units of 0.1 Wh are 2.5 kWh.
	if e := r.SessionEnergyKWh(); e == nil || *e != 2.5 {
		t.Fatalf("expected 2.5 kWh got %v", e)
	}
	if e := r.TotalEnergyKWh(); e == nil || *e != 125.0 {
		t.Fatalf("expected 125.0 kWh got %v", e)
	}
	if i := CurrentA(r.I1); i == nil || *i != 15.99 {
		t.Fatalf("expected 15.99 A got %v", i)
	}
}

func TestReport3MissingFields(t *testing.T) {
	r := NewReport3(decodeFields(t, `{"ID": "3"}`))
	if r.PowerKW() != nil || r.SessionEnergyKWh() != nil || r.TotalEnergyKWh() != nil {
		t.Fatal("missing measurements must scale to nil")
	}
}

func TestNewReport100(t *testing.T) {
	fields := decodeFields(t, `{"ID": "100", "Session ID": 42, "Curr HW": 20000, "E start": 100000, "E pres": 25000, "started": "2024-01-02 10:00:00.000", "ended": "0", "reason": 0, "RFID tag": "e3f76b8d00000000", "RFID class": "01010400000000000000", "Serial": "12345678", "Sec": 4711}`)
	r := NewReport100(fields)
	if r.SessionID == nil || *r.SessionID != 42 {
		t.Fatalf("unexpected session id %v", r.SessionID)
	}
	if e := r.EStartKWh(); e == nil || *e != 10.0 {
		t.Fatalf("expected 10.0 kWh got %v", e)
	}
	if r.RFIDTag != "e3f76b8d00000000" {
		t.Fatalf("unexpected tag %q", r.RFIDTag)
	}
}
