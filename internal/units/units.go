// Package units provides shared constants and validation for length units.
// Measurements are stored and fused in centimetres.
package units

import "strings"

// Unit constants
const (
	CM     = "cm"
	MM     = "mm"
	Inches = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, Inches}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a length in centimetres to the target units.
// Unknown units leave the value in centimetres.
func ConvertLength(cm float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return cm * 10
	case Inches:
		return cm / 2.54
	default:
		return cm
	}
}
