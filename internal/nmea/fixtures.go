package nmea

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

// Category groups the sentence types found in a capture file.
type Category string

const (
	// CategoryNavigation covers position, course and heading sentences.
	CategoryNavigation Category = "navigation"
	// CategorySatellite covers satellite constellation and time sentences.
	CategorySatellite Category = "satellite"
	// CategoryAIS covers encapsulated AIS sentences.
	CategoryAIS Category = "ais"
)

var categoryTypes = map[Category][]string{
	CategoryNavigation: {"RMC", "GGA", "GLL", "VTG", "HDT", "HDG", "VHW", "RMB", "BOD"},
	CategorySatellite:  {"GSV", "GSA", "ZDA"},
	CategoryAIS:        {"VDM", "VDO"},
}

// Corpus loads a static capture of real sentences from disk and offers
// filtered views over it. The file is read once on first use and cached on
// the instance; construct one Corpus and share it instead of relying on
// ambient state.
type Corpus struct {
	path string

	once      sync.Once
	loadErr   error
	sentences []string
}

// NewCorpus returns a Corpus backed by the capture file at path. The file is
// not read until the first accessor call.
func NewCorpus(path string) *Corpus {
	return &Corpus{path: path}
}

func (c *Corpus) load() error {
	c.once.Do(func() {
		f, err := os.Open(c.path)
		if err != nil {
			c.loadErr = fmt.Errorf("open sentence corpus: %w", err)
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line[0] != '$' && line[0] != '!' {
				continue
			}
			c.sentences = append(c.sentences, line)
		}
		if err := scanner.Err(); err != nil {
			c.loadErr = fmt.Errorf("read sentence corpus: %w", err)
		}
	})
	return c.loadErr
}

// All returns every sentence in the corpus in file order.
func (c *Corpus) All() ([]string, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	return slices.Clone(c.sentences), nil
}

// ByType returns the sentences whose three-letter type matches any of the
// given types (e.g. "RMC", "GGA").
func (c *Corpus) ByType(types ...string) ([]string, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	var res []string
	for _, s := range c.sentences {
		if slices.Contains(types, sentenceType(s)) {
			res = append(res, s)
		}
	}
	return res, nil
}

// ByCategory returns the sentences belonging to the given category.
func (c *Corpus) ByCategory(cat Category) ([]string, error) {
	types, ok := categoryTypes[cat]
	if !ok {
		return nil, fmt.Errorf("unknown sentence category %q", cat)
	}
	return c.ByType(types...)
}

// Burst returns exactly n sentences, cycling through the corpus as many
// times as needed. This lets callers request arbitrarily sized batches of
// real-world traffic from a finite capture.
func (c *Corpus) Burst(n int) ([]string, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	if len(c.sentences) == 0 {
		return nil, fmt.Errorf("sentence corpus %s is empty", c.path)
	}

	res := make([]string, n)
	for i := range n {
		res[i] = c.sentences[i%len(c.sentences)]
	}
	return res, nil
}

// sentenceType extracts the three-letter sentence type from the address
// field, e.g. "RMC" from "$GPRMC,..." or "VDM" from "!AIVDM,...".
func sentenceType(s string) string {
	if len(s) < 2 {
		return ""
	}
	addr, _, _ := strings.Cut(s[1:], ",")
	if len(addr) < 5 {
		return ""
	}
	return addr[2:5]
}
