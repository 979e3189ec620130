package charger

import (
	"time"

	"github.com/gridsteer/kecc/core/keba"
)

// Snapshot is the merged view of one charger for one polling cycle. It is
// rebuilt wholesale each poll and never mutated in place.
type Snapshot struct {
	IP       string `json:"ip"`
	Serial   string `json:"serial,omitempty"`
	Product  string `json:"product,omitempty"`
	Firmware string `json:"firmware,omitempty"`

	State     *int64 `json:"state,omitempty"`
	StateText string `json:"state_text"`
	Plug      *int64 `json:"plug,omitempty"`
	PlugText  string `json:"plug_text"`
	Failsafe  bool   `json:"failsafe"`

	MaxCurrentMA *int64 `json:"max_current_ma,omitempty"`
	HWLimitMA    *int64 `json:"hw_limit_ma,omitempty"`
	UserLimitMA  *int64 `json:"user_limit_ma,omitempty"`

	PowerKW          *float64 `json:"power_kw,omitempty"`
	PowerFactor      *int64   `json:"power_factor,omitempty"`
	SessionEnergyKWh *float64 `json:"session_energy_kwh,omitempty"`
	TotalEnergyKWh   *float64 `json:"total_energy_kwh,omitempty"`
	VoltageV         [3]*int64
	CurrentA         [3]*float64

	SessionID *int64 `json:"session_id,omitempty"`
	RFIDTag   string `json:"rfid_tag,omitempty"`
	RFIDClass string `json:"rfid_class,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// NewSnapshot assembles a snapshot from the four reports. session may be nil
// when the firmware does not implement report 100.
func NewSnapshot(ip string, identity keba.Report1, state keba.Report2, meas keba.Report3, session *keba.Report100, at time.Time) Snapshot {
	snap := Snapshot{
		IP:           ip,
		Serial:       identity.Serial,
		Product:      identity.Product,
		Firmware:     identity.Firmware,
		State:        state.State,
		StateText:    state.StateDescription(),
		Plug:         state.Plug,
		PlugText:     state.PlugDescription(),
		Failsafe:     state.FailsafeActive(),
		MaxCurrentMA: state.MaxCurr,
		HWLimitMA:    state.CurrHW,
		UserLimitMA:  state.CurrUser,
		PowerKW:      meas.PowerKW(),
		PowerFactor:  meas.PF,
		SessionEnergyKWh: meas.SessionEnergyKWh(),
		TotalEnergyKWh:   meas.TotalEnergyKWh(),
		VoltageV:         [3]*int64{meas.U1, meas.U2, meas.U3},
		CurrentA:         [3]*float64{keba.CurrentA(meas.I1), keba.CurrentA(meas.I2), keba.CurrentA(meas.I3)},
		Timestamp:        at,
	}
	if snap.Serial == "" {
		snap.Serial = state.Serial
	}
	if session != nil {
		snap.SessionID = session.SessionID
		snap.RFIDTag = session.RFIDTag
		snap.RFIDClass = session.RFIDClass
	}
	return snap
}

// Active reports whether the charger is in the Charging state.
func (s Snapshot) Active() bool {
	return s.State != nil && *s.State == keba.StateCharging
}

// StateChangedFrom reports a state or plug transition relative to prev.
// Only those two codes matter for re-triggering allocation.
func (s Snapshot) StateChangedFrom(prev Snapshot) bool {
	return !equalInt64(s.State, prev.State) || !equalInt64(s.Plug, prev.Plug)
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
