// Package pgn synthesizes PGN-keyed JSON telemetry messages, the second wire
// protocol understood by the server under test. Each message carries an
// integer parameter-group number, an ISO-8601 timestamp and a flat field map,
// and is delivered newline-delimited.
package pgn

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Parameter-group numbers for the message families the harness generates.
const (
	PGNPosition   = 129025
	PGNHeading    = 127250
	PGNSpeed      = 128259
	PGNDepth      = 128267
	PGNWind       = 130306
	PGNEngine     = 127488
	PGNBattery    = 127508
	PGNFluidLevel = 127505
)

var descriptions = map[int]string{
	PGNPosition:   "Position, Rapid Update",
	PGNHeading:    "Vessel Heading",
	PGNSpeed:      "Speed",
	PGNDepth:      "Water Depth",
	PGNWind:       "Wind Data",
	PGNEngine:     "Engine Parameters, Rapid Update",
	PGNBattery:    "Battery Status",
	PGNFluidLevel: "Fluid Level",
}

// Description returns the human-readable name of a known PGN, or an empty
// string for an unknown one.
func Description(number int) string {
	return descriptions[number]
}

// Message is one immutable synthetic telemetry frame. Construct messages via
// the builder functions rather than filling in the struct directly so field
// names stay wire-accurate.
type Message struct {
	PGN         int            `json:"pgn"`
	Description string         `json:"description"`
	Timestamp   string         `json:"timestamp"`
	Fields      map[string]any `json:"fields"`
}

func newMessage(number int, at time.Time, fields map[string]any) Message {
	return Message{
		PGN:         number,
		Description: descriptions[number],
		Timestamp:   at.UTC().Format(time.RFC3339Nano),
		Fields:      fields,
	}
}

// Encode renders the message as a single JSON line, newline-terminated.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode PGN %d message: %w", m.PGN, err)
	}
	return append(b, '\n'), nil
}

// Position returns a rapid-update position message. Coordinates are decimal
// degrees.
func Position(at time.Time, lat, lon float64) Message {
	return newMessage(PGNPosition, at, map[string]any{
		"Latitude":  round(lat, 7),
		"Longitude": round(lon, 7),
	})
}

// Heading returns a vessel-heading message. Heading is in degrees and is
// encoded in radians as the wire format requires.
func Heading(at time.Time, headingDeg float64) Message {
	return newMessage(PGNHeading, at, map[string]any{
		"Heading":   round(headingDeg*math.Pi/180, 4),
		"Reference": "True",
	})
}

// Speed returns a speed-through-water message. Speed is in knots and encoded
// in meters per second.
func Speed(at time.Time, speedKnots float64) Message {
	return newMessage(PGNSpeed, at, map[string]any{
		"Speed Water Referenced": round(speedKnots*0.514444, 2),
	})
}

// Depth returns a water-depth message. Depth is in meters.
func Depth(at time.Time, depthMeters float64) Message {
	return newMessage(PGNDepth, at, map[string]any{
		"Depth":  round(depthMeters, 2),
		"Offset": 0.0,
	})
}

// Wind returns an apparent-wind message. Angle is in degrees (encoded in
// radians), speed in knots (encoded in meters per second).
func Wind(at time.Time, angleDeg, speedKnots float64) Message {
	return newMessage(PGNWind, at, map[string]any{
		"Wind Angle": round(angleDeg*math.Pi/180, 4),
		"Wind Speed": round(speedKnots*0.514444, 2),
		"Reference":  "Apparent",
	})
}

// Engine returns a rapid-update engine message for the given instance.
func Engine(at time.Time, instance int, rpm float64) Message {
	return newMessage(PGNEngine, at, map[string]any{
		"Instance": instance,
		"Speed":    round(rpm, 0),
	})
}

// Battery returns a battery-status message for the given instance.
func Battery(at time.Time, instance int, volts, amps float64) Message {
	return newMessage(PGNBattery, at, map[string]any{
		"Instance": instance,
		"Voltage":  round(volts, 2),
		"Current":  round(amps, 2),
	})
}

// FluidLevel returns a fluid-level message. Level is a percentage 0-100.
func FluidLevel(at time.Time, instance int, levelPercent, capacityLiters float64) Message {
	return newMessage(PGNFluidLevel, at, map[string]any{
		"Instance": instance,
		"Type":     "Fuel",
		"Level":    round(levelPercent, 1),
		"Capacity": round(capacityLiters, 1),
	})
}

func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
