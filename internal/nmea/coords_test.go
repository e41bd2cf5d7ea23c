package nmea_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmarine/seatrial/internal/nmea"
)

func TestEncodeLatitude(t *testing.T) {
	tests := []struct {
		name     string
		deg      float64
		want     string
		wantHemi string
	}{
		{name: "northern hemisphere", deg: 60.15, want: "6009.0000", wantHemi: "N"},
		{name: "southern hemisphere", deg: -33.8568, want: "3351.4080", wantHemi: "S"},
		{name: "equator", deg: 0, want: "0000.0000", wantHemi: "N"},
		{name: "minute rounding carries into degrees", deg: 59.9999999, want: "6000.0000", wantHemi: "N"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			field, hemi := nmea.EncodeLatitude(tc.deg)
			assert.Equal(t, tc.want, field)
			assert.Equal(t, tc.wantHemi, hemi)
		})
	}
}

func TestEncodeLongitude(t *testing.T) {
	tests := []struct {
		name     string
		deg      float64
		want     string
		wantHemi string
	}{
		{name: "eastern hemisphere", deg: 24.95, want: "02457.0000", wantHemi: "E"},
		{name: "western hemisphere", deg: -123.3656, want: "12321.9360", wantHemi: "W"},
		{name: "three degree digits", deg: 151.2153, want: "15112.9180", wantHemi: "E"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			field, hemi := nmea.EncodeLongitude(tc.deg)
			assert.Equal(t, tc.want, field)
			assert.Equal(t, tc.wantHemi, hemi)
		})
	}
}

func TestCoordinateRoundTrip(t *testing.T) {
	coords := []struct {
		lat, lon float64
	}{
		{60.15, 24.95},
		{-33.8568, 151.2153},
		{48.8566, 2.3522},
		{-54.8019, -68.3030},
		{0.0001, -0.0001},
	}

	// Four decimal minutes resolve to well under 1e-4 degrees.
	const tolerance = 1e-4

	for _, c := range coords {
		latField, latHemi := nmea.EncodeLatitude(c.lat)
		gotLat, err := nmea.DecodeCoordinate(latField, latHemi)
		require.NoError(t, err)
		assert.InDelta(t, c.lat, gotLat, tolerance)

		lonField, lonHemi := nmea.EncodeLongitude(c.lon)
		gotLon, err := nmea.DecodeCoordinate(lonField, lonHemi)
		require.NoError(t, err)
		assert.InDelta(t, c.lon, gotLon, tolerance)
	}
}

func TestDecodeCoordinateErrors(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		hemisphere string
	}{
		{name: "too short", field: "1.0", hemisphere: "N"},
		{name: "not a number", field: "12xx.0000", hemisphere: "N"},
		{name: "unknown hemisphere", field: "6009.0000", hemisphere: "Q"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := nmea.DecodeCoordinate(tc.field, tc.hemisphere)
			assert.Error(t, err)
		})
	}
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 5.14444, nmea.KnotsToMetersPerSecond(10), 1e-9)
	assert.InDelta(t, 291.65, nmea.CelsiusToKelvin(18.5), 1e-9)
}
