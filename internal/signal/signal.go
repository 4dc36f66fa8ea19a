// Package signal derives link quality and operational status from radio metrics.
package signal

import "github.com/kirbo/go-sensormap/internal/models"

const (
	RSSIExcellent = -55
	RSSIStrong    = -65
	RSSIMedium    = -75
	RSSIWeak      = -85
)

// Level converts an rssi in dBm into a 1..5 signal level. Each boundary
// belongs to the higher level.
func Level(rssi int) int {
	switch {
	case rssi >= RSSIExcellent:
		return 5
	case rssi >= RSSIStrong:
		return 4
	case rssi >= RSSIMedium:
		return 3
	case rssi >= RSSIWeak:
		return 2
	default:
		return 1
	}
}

// Label names a signal level.
func Label(level int) string {
	switch level {
	case 5:
		return "Excellent"
	case 4:
		return "Strong"
	case 3:
		return "Medium"
	case 2:
		return "Weak"
	default:
		return "Offline"
	}
}

// OperationalStatus maps a signal level to online, weak or offline. It never
// returns StatusDeactivated: deactivation is decided elsewhere.
func OperationalStatus(level int) models.Status {
	switch {
	case level <= 1:
		return models.StatusOffline
	case level == 2:
		return models.StatusWeak
	default:
		return models.StatusOnline
	}
}

// StatusFor is OperationalStatus(Level(rssi)).
func StatusFor(rssi int) models.Status {
	return OperationalStatus(Level(rssi))
}

// packet loss breakpoints in percent
var lossBreakpoints = [...]float64{0, 8, 15, 25, 40}

var lossLabels = [...]string{"No Loss", "Very Low", "Low", "Medium", "High", "Severe"}

// PacketLossSeverity buckets a loss percentage into 0..5. Zero (or less) is
// 0; anything above zero and below 8 is 1; 40 and above is 5.
func PacketLossSeverity(loss float64) int {
	if !(loss > lossBreakpoints[0]) {
		return 0
	}
	severity := 1
	for _, bp := range lossBreakpoints[1:] {
		if loss >= bp {
			severity++
		}
	}
	return severity
}

// PacketLossLabel names a severity returned by PacketLossSeverity.
func PacketLossLabel(severity int) string {
	if severity < 0 {
		severity = 0
	}
	if severity >= len(lossLabels) {
		severity = len(lossLabels) - 1
	}
	return lossLabels[severity]
}

// BatteryTier colors a battery percentage.
func BatteryTier(battery float64) string {
	switch {
	case battery > 60:
		return "green"
	case battery > 30:
		return "yellow"
	case battery > 15:
		return "orange"
	default:
		return "red"
	}
}
