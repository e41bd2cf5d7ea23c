// Package traffic composes synthetic multi-sensor traffic bursts on top of
// the sentence and PGN builders, simulating continuous vessel motion instead
// of a uniform single-type flood.
package traffic

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/openmarine/seatrial/internal/nmea"
	"github.com/openmarine/seatrial/internal/pgn"
)

// Secondary message types are interleaved at fixed strides so a burst looks
// like a realistic multi-sensor update cadence.
const (
	fixStride   = 2
	depthStride = 3
	windStride  = 5
)

// Voyage parameterizes a generated passage.
type Voyage struct {
	Lat        float64
	Lon        float64
	SpeedKnots float64
	HeadingDeg float64
}

// Generator produces deterministic pseudo-random traffic for a given seed.
// It is not safe for concurrent use; give each goroutine its own Generator.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator returns a Generator seeded for reproducible bursts.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// SentenceBurst returns n steps of NMEA 0183 traffic simulating continuous
// motion from the voyage start: a position sentence every step with small
// randomized deltas, interleaved with fix, depth and wind sentences at fixed
// strides.
func (g *Generator) SentenceBurst(n int, v Voyage) []string {
	sentences := make([]string, 0, n*2)
	at := g.now()

	state := v
	for i := range n {
		sentences = append(sentences, nmea.RMC(at, state.Lat, state.Lon, state.SpeedKnots, state.HeadingDeg))

		if i%fixStride == 0 {
			sentences = append(sentences, nmea.GGA(at, state.Lat, state.Lon, 8+g.rnd.Intn(4)))
		}
		if i%depthStride == 0 {
			sentences = append(sentences, nmea.DBT(5.0+g.rnd.Float64()*2))
		}
		if i%windStride == 0 {
			sentences = append(sentences, nmea.MWV(g.rnd.Float64()*360, 8+g.rnd.Float64()*8))
			sentences = append(sentences, nmea.MTW(17.5+g.rnd.Float64()))
		}

		state = g.advance(state)
		at = at.Add(time.Second)
	}
	return sentences
}

// MessageBurst returns n steps of PGN-keyed traffic with the same motion
// model and interleaving discipline as [Generator.SentenceBurst].
func (g *Generator) MessageBurst(n int, v Voyage) []pgn.Message {
	messages := make([]pgn.Message, 0, n*2)
	at := g.now()

	state := v
	for i := range n {
		messages = append(messages, pgn.Position(at, state.Lat, state.Lon))

		if i%fixStride == 0 {
			messages = append(messages,
				pgn.Heading(at, state.HeadingDeg),
				pgn.Speed(at, state.SpeedKnots),
			)
		}
		if i%depthStride == 0 {
			messages = append(messages, pgn.Depth(at, 5.0+g.rnd.Float64()*2))
		}
		if i%windStride == 0 {
			messages = append(messages,
				pgn.Wind(at, g.rnd.Float64()*360, 8+g.rnd.Float64()*8),
				pgn.Engine(at, 0, 2200+g.rnd.Float64()*400),
				pgn.Battery(at, 0, 12.4+g.rnd.Float64()*0.8, -2-g.rnd.Float64()*4),
				pgn.FluidLevel(at, 0, 40+g.rnd.Float64()*30, 200),
			)
		}

		state = g.advance(state)
		at = at.Add(time.Second)
	}
	return messages
}

// EncodeMessages renders PGN messages into their newline-delimited wire
// lines, ready for transport.
func EncodeMessages(messages []pgn.Message) ([]string, error) {
	lines := make([]string, len(messages))
	for i, m := range messages {
		b, err := m.Encode()
		if err != nil {
			return nil, err
		}
		lines[i] = strings.TrimRight(string(b), "\n")
	}
	return lines, nil
}

// advance moves the voyage one simulated second along its heading with small
// randomized deltas on speed and heading.
func (g *Generator) advance(v Voyage) Voyage {
	v.HeadingDeg += g.rnd.Float64()*4 - 2
	if v.HeadingDeg < 0 {
		v.HeadingDeg += 360
	} else if v.HeadingDeg >= 360 {
		v.HeadingDeg -= 360
	}

	v.SpeedKnots += g.rnd.Float64()*0.6 - 0.3
	if v.SpeedKnots < 0 {
		v.SpeedKnots = 0
	}

	meters := nmea.KnotsToMetersPerSecond(v.SpeedKnots)
	headingRad := v.HeadingDeg * math.Pi / 180
	v.Lat += meters * math.Cos(headingRad) / 111320
	v.Lon += meters * math.Sin(headingRad) / (111320 * math.Cos(v.Lat*math.Pi/180))
	return v
}
