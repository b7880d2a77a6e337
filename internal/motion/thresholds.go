package motion

import "time"

// thresholdsForHour selects (base, shadow) comparison thresholds by local
// hour. Coop lighting follows the sun: low-angle morning and evening light
// throws long moving shadows, so those hours run less sensitive; midday is
// flat and stable; night runs least sensitive of all since an IR-lit scene
// is mostly noise.
func thresholdsForHour(hour int) (base, shadow float64) {
	switch {
	case hour >= 5 && hour <= 7:
		return 30, 50
	case hour >= 8 && hour <= 10:
		return 25, 40
	case hour >= 11 && hour <= 13:
		return 20, 35
	case hour >= 14 && hour <= 16:
		return 25, 40
	case hour >= 17 && hour <= 19:
		return 30, 50
	default: // 20:00 through 04:59
		return 35, 55
	}
}

// thresholdsAt resolves the comparison thresholds for a moment in local
// time, falling back to fixed defaults when the schedule is disabled.
func thresholdsAt(t time.Time, timeBased bool) (base, shadow float64) {
	if !timeBased {
		return defaultBaseThreshold, defaultShadowThreshold
	}
	return thresholdsForHour(t.Local().Hour())
}
