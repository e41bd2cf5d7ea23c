package nmea_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openmarine/seatrial/internal/nmea"
)

func TestSentenceBuilders(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 27, 25, 0, time.UTC)

	tests := []struct {
		name       string
		sentence   string
		wantPrefix string
		wantFields []string
	}{
		{
			name:       "RMC",
			sentence:   nmea.RMC(at, 60.15, 24.95, 6.5, 77.5),
			wantPrefix: "$GPRMC,",
			wantFields: []string{"092725.00", "6009.0000", "N", "02457.0000", "E", "6.5", "77.5", "300826"},
		},
		{
			name:       "GGA",
			sentence:   nmea.GGA(at, 60.15, 24.95, 8),
			wantPrefix: "$GPGGA,",
			wantFields: []string{"092725.00", "6009.0000", "N", "02457.0000", "E", "08"},
		},
		{
			name:       "HDT",
			sentence:   nmea.HDT(101.1),
			wantPrefix: "$HEHDT,",
			wantFields: []string{"101.1", "T"},
		},
		{
			name:       "DBT carries meters and derived units",
			sentence:   nmea.DBT(5.0),
			wantPrefix: "$SDDBT,",
			wantFields: []string{"16.4", "f", "5.0", "M", "2.7", "F"},
		},
		{
			name:       "MWV",
			sentence:   nmea.MWV(214.8, 12.3),
			wantPrefix: "$WIMWV,",
			wantFields: []string{"214.8", "R", "12.3", "N", "A"},
		},
		{
			name:       "MTW",
			sentence:   nmea.MTW(18.5),
			wantPrefix: "$SDMTW,",
			wantFields: []string{"18.5", "C"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tc.sentence, tc.wantPrefix),
				"sentence %q should start with %q", tc.sentence, tc.wantPrefix)
			assert.True(t, nmea.Valid(tc.sentence), "sentence %q should validate", tc.sentence)

			body := tc.sentence[1 : len(tc.sentence)-3]
			fields := strings.Split(body, ",")
			for _, want := range tc.wantFields {
				assert.Contains(t, fields, want, "sentence %q missing field %q", tc.sentence, want)
			}
		})
	}
}
