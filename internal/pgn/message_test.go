package pgn_test

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmarine/seatrial/internal/pgn"
)

func TestBuildersProduceKnownPGNs(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		message pgn.Message
		wantPGN int
	}{
		{name: "position", message: pgn.Position(at, 60.15, 24.95), wantPGN: 129025},
		{name: "heading", message: pgn.Heading(at, 90), wantPGN: 127250},
		{name: "speed", message: pgn.Speed(at, 10), wantPGN: 128259},
		{name: "depth", message: pgn.Depth(at, 5.1), wantPGN: 128267},
		{name: "wind", message: pgn.Wind(at, 45, 12), wantPGN: 130306},
		{name: "engine", message: pgn.Engine(at, 0, 2400), wantPGN: 127488},
		{name: "battery", message: pgn.Battery(at, 1, 12.8, -4.2), wantPGN: 127508},
		{name: "fluid level", message: pgn.FluidLevel(at, 0, 72.5, 200), wantPGN: 127505},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantPGN, tc.message.PGN)
			assert.Equal(t, pgn.Description(tc.wantPGN), tc.message.Description)
			assert.NotEmpty(t, tc.message.Description)
			assert.Equal(t, "2026-08-30T12:00:00Z", tc.message.Timestamp)
			assert.NotEmpty(t, tc.message.Fields)
		})
	}
}

func TestEncodeIsNewlineDelimitedJSON(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	b, err := pgn.Position(at, 60.15, 24.95).Encode()
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(b, []byte("\n")))

	var decoded struct {
		PGN       int            `json:"pgn"`
		Timestamp string         `json:"timestamp"`
		Fields    map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.Equal(t, 129025, decoded.PGN)
	assert.Equal(t, "2026-08-30T12:00:00Z", decoded.Timestamp)
	assert.InDelta(t, 60.15, decoded.Fields["Latitude"], 1e-6)
	assert.InDelta(t, 24.95, decoded.Fields["Longitude"], 1e-6)
}

func TestUnitEncodings(t *testing.T) {
	at := time.Now()

	heading := pgn.Heading(at, 180)
	assert.InDelta(t, math.Pi, heading.Fields["Heading"], 1e-3)

	speed := pgn.Speed(at, 10)
	assert.InDelta(t, 5.14, speed.Fields["Speed Water Referenced"], 1e-2)

	wind := pgn.Wind(at, 90, 20)
	assert.InDelta(t, math.Pi/2, wind.Fields["Wind Angle"], 1e-3)
	assert.InDelta(t, 10.29, wind.Fields["Wind Speed"], 1e-2)
}

func TestDescriptionUnknownPGN(t *testing.T) {
	assert.Empty(t, pgn.Description(60928))
}
