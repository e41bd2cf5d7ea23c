package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit conversion factors mandated by the wire formats. Speed fields are
// authored in knots and temperatures in Celsius; consumers converting to SI
// units must use these exact factors.
const (
	MetersPerSecondPerKnot = 0.514444
	KelvinOffset           = 273.15

	feetPerMeter    = 3.28084
	fathomsPerMeter = 0.546807
)

// KnotsToMetersPerSecond converts a speed in knots to meters per second.
func KnotsToMetersPerSecond(knots float64) float64 {
	return knots * MetersPerSecondPerKnot
}

// CelsiusToKelvin converts a temperature in Celsius to Kelvin.
func CelsiusToKelvin(celsius float64) float64 {
	return celsius + KelvinOffset
}

// EncodeLatitude converts a latitude in decimal degrees into the sentence
// field representation (ddmm.mmmm) and its hemisphere indicator.
//
// The encoding is lossy below four decimal minutes; callers must not assume
// perfect round-trips beyond that precision.
func EncodeLatitude(deg float64) (field, hemisphere string) {
	hemisphere = "N"
	if deg < 0 {
		hemisphere = "S"
	}
	return encodeCoordinate(deg, 2), hemisphere
}

// EncodeLongitude converts a longitude in decimal degrees into the sentence
// field representation (dddmm.mmmm) and its hemisphere indicator.
func EncodeLongitude(deg float64) (field, hemisphere string) {
	hemisphere = "E"
	if deg < 0 {
		hemisphere = "W"
	}
	return encodeCoordinate(deg, 3), hemisphere
}

func encodeCoordinate(deg float64, degreeDigits int) string {
	abs := math.Abs(deg)
	whole := math.Floor(abs)
	minutes := (abs - whole) * 60

	// Rounding the minutes to four decimals can carry over into a full
	// degree (e.g. 59.99999 minutes).
	if minutes >= 59.99995 {
		whole++
		minutes = 0
	}

	return fmt.Sprintf("%0*d%07.4f", degreeDigits, int(whole), minutes)
}

// DecodeCoordinate converts a (d)ddmm.mmmm field and its hemisphere
// indicator back into signed decimal degrees.
func DecodeCoordinate(field, hemisphere string) (float64, error) {
	// The minutes part always occupies the two digits before the decimal
	// point and everything after it; the degree digits precede them.
	dotIdx := strings.IndexByte(field, '.')
	if dotIdx < 3 {
		return 0, fmt.Errorf("coordinate field %q too short", field)
	}

	degrees, err := strconv.ParseFloat(field[:dotIdx-2], 64)
	if err != nil {
		return 0, fmt.Errorf("parse degrees of %q: %w", field, err)
	}
	minutes, err := strconv.ParseFloat(field[dotIdx-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("parse minutes of %q: %w", field, err)
	}

	value := degrees + minutes/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		value = -value
	default:
		return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
	}
	return value, nil
}
