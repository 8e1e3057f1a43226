// Package units provides the optical power and attenuation conversions shared
// by the analysis and orchestration code.
package units

import "math"

// AttenuationScale converts a fitted exponential decay constant into the
// reported attenuation coefficient in dB/km.
const AttenuationScale = 1e4

// Power unit names accepted by ConvertPower.
const (
	DBM = "dbm"
	MW  = "mw"
	UW  = "uw"
)

// ValidPowerUnits contains all valid power unit values
var ValidPowerUnits = []string{DBM, MW, UW}

// IsValidPowerUnit checks if the given unit is in the list of valid units
func IsValidPowerUnit(unit string) bool {
	for _, validUnit := range ValidPowerUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// DBmToMilliwatt converts an absolute power level in dBm to milliwatts.
func DBmToMilliwatt(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// MilliwattToDBm converts milliwatts to dBm. Non-positive input yields -Inf.
func MilliwattToDBm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}

// DBmToMilliwattSlice converts a series of dBm readings to milliwatts.
func DBmToMilliwattSlice(dbm []float64) []float64 {
	out := make([]float64, len(dbm))
	for i, v := range dbm {
		out[i] = DBmToMilliwatt(v)
	}
	return out
}

// ConvertPower converts a power reading from dBm to the target units.
// Readings are stored in dBm.
func ConvertPower(dbm float64, targetUnits string) float64 {
	switch targetUnits {
	case MW:
		return DBmToMilliwatt(dbm)
	case UW:
		return DBmToMilliwatt(dbm) * 1e3
	default:
		return dbm // dBm if unknown
	}
}
