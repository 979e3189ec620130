package keba

import (
	"fmt"
	"strings"
)

// Port is the UDP port used by KeContact chargers for both directions.
const Port = 7090

// MaxDisplayLength is the number of characters the charger display can show.
const MaxDisplayLength = 23

// displayFiller replaces spaces in display text; the display command treats
// a space as an argument separator.
const displayFiller = "$"

// BroadcastProbe solicits a broadcast state frame from every charger on the
// segment.
const BroadcastProbe = "i"

// ReportCommand returns the command requesting the given report.
func ReportCommand(id int) string {
	return fmt.Sprintf("report %d", id)
}

// EnableCommand returns "ena 1" or "ena 0".
func EnableCommand(on bool) string {
	if on {
		return "ena 1"
	}
	return "ena 0"
}

// CurrentCommand returns the command setting the charging current limit in
// milliamps.
func CurrentCommand(milliamps int64) string {
	return fmt.Sprintf("curr %d", milliamps)
}

// EnergyLimitCommand returns the command setting the session energy limit in
// 0.1 Wh units.
func EnergyLimitCommand(units int64) string {
	return fmt.Sprintf("setenergy %d", units)
}

// OutputCommand returns the command driving the X2 output relay.
func OutputCommand(value int64) string {
	return fmt.Sprintf("output %d", value)
}

// StartCommand returns the command starting a charging session. Both tag and
// class may be empty, in which case the bare form is used.
func StartCommand(rfidTag, rfidClass string) string {
	if rfidTag == "" {
		return "start"
	}
	if rfidClass == "" {
		return "start " + rfidTag
	}
	return fmt.Sprintf("start %s %s", rfidTag, rfidClass)
}

// StopCommand returns the command stopping the charging session.
func StopCommand() string {
	return "stop"
}

// UnlockCommand returns the command releasing the cable lock. Charging should
// be stopped before unlocking.
func UnlockCommand() string {
	return "unlock"
}

// SanitizeDisplayText substitutes the wire filler for spaces and truncates to
// MaxDisplayLength. The second return reports whether truncation occurred so
// callers can log it.
func SanitizeDisplayText(text string) (string, bool) {
	text = strings.ReplaceAll(text, " ", displayFiller)
	runes := []rune(text)
	if len(runes) > MaxDisplayLength {
		return string(runes[:MaxDisplayLength]), true
	}
	return text, false
}

// DisplayCommand returns the command showing text on the charger display.
// The truncated return mirrors SanitizeDisplayText.
func DisplayCommand(text string) (cmd string, truncated bool) {
	text, truncated = SanitizeDisplayText(text)
	return fmt.Sprintf("display 0 0 0 0 %s", text), truncated
}
