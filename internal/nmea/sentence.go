package nmea

import (
	"fmt"
	"time"
)

// RMC returns a recommended-minimum position sentence for the given fix.
// Speed is in knots, course in true degrees.
func RMC(t time.Time, lat, lon, speedKnots, courseDeg float64) string {
	latField, latHemi := EncodeLatitude(lat)
	lonField, lonHemi := EncodeLongitude(lon)
	body := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,,A",
		t.UTC().Format("150405.00"),
		latField, latHemi,
		lonField, lonHemi,
		speedKnots, courseDeg,
		t.UTC().Format("020106"),
	)
	return Wrap(body)
}

// GGA returns a GPS fix sentence for the given position with the given
// number of satellites in use.
func GGA(t time.Time, lat, lon float64, satellites int) string {
	latField, latHemi := EncodeLatitude(lat)
	lonField, lonHemi := EncodeLongitude(lon)
	body := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,%02d,0.9,5.0,M,25.0,M,,",
		t.UTC().Format("150405.00"),
		latField, latHemi,
		lonField, lonHemi,
		satellites,
	)
	return Wrap(body)
}

// HDT returns a true-heading sentence. Heading is in degrees.
func HDT(headingDeg float64) string {
	return Wrap(fmt.Sprintf("HEHDT,%.1f,T", headingDeg))
}

// DBT returns a depth-below-transducer sentence. Depth is in meters; the
// feet and fathom fields are derived from it.
func DBT(depthMeters float64) string {
	body := fmt.Sprintf("SDDBT,%.1f,f,%.1f,M,%.1f,F",
		depthMeters*feetPerMeter,
		depthMeters,
		depthMeters*fathomsPerMeter,
	)
	return Wrap(body)
}

// MWV returns a relative wind sentence. Angle is in degrees off the bow,
// speed in knots.
func MWV(angleDeg, speedKnots float64) string {
	return Wrap(fmt.Sprintf("WIMWV,%.1f,R,%.1f,N,A", angleDeg, speedKnots))
}

// MTW returns a water-temperature sentence. Temperature is in Celsius;
// consumers asserting against a server normalizing to Kelvin must apply
// [CelsiusToKelvin].
func MTW(celsius float64) string {
	return Wrap(fmt.Sprintf("SDMTW,%.1f,C", celsius))
}
