// Package units provides shared constants and validation for the
// measurement units accepted at the I/O boundary.
package units

import "math"

// Length unit constants
const (
	Millimeters = "mm"
	Meters      = "m"
)

// ValidLengthUnits contains all valid length unit values.
var ValidLengthUnits = []string{Millimeters, Meters}

// IsValidLength checks if the given unit is a supported length unit.
func IsValidLength(unit string) bool {
	for _, valid := range ValidLengthUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// LengthScaleToMeters returns the factor converting positions in unit to
// meters. An empty unit defaults to millimeters, the common capture
// export convention.
func LengthScaleToMeters(unit string) (float64, bool) {
	switch unit {
	case "", Millimeters:
		return 0.001, true
	case Meters:
		return 1, true
	}
	return 0, false
}

// DegPerRad converts radians to degrees.
const DegPerRad = 180 / math.Pi
