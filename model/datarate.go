package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataRate is a link bandwidth in bits per second.
type DataRate uint64

// Units accepted by ParseDataRate. Lower-case "b" means bits and
// upper-case "B" means bytes, matching the simulator's attribute syntax.
var rateUnits = []struct {
	suffix string
	factor uint64
}{
	{"Gbps", 1_000_000_000},
	{"Mbps", 1_000_000},
	{"kbps", 1_000},
	{"Kbps", 1_000},
	{"bps", 1},
	{"GBps", 8_000_000_000},
	{"MBps", 8_000_000},
	{"kBps", 8_000},
	{"KBps", 8_000},
	{"Bps", 8},
	{"Gb/s", 1_000_000_000},
	{"Mb/s", 1_000_000},
	{"kb/s", 1_000},
	{"b/s", 1},
}

// ParseDataRate parses strings such as "5Mbps", "100Mbps" or "1.5Gbps".
// A bare number is taken as bits per second.
func ParseDataRate(s string) (DataRate, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("empty data rate")
	}
	factor := uint64(1)
	for _, u := range rateUnits {
		if strings.HasSuffix(v, u.suffix) {
			factor = u.factor
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid data rate %q: %w", s, err)
	}
	if !(f > 0) {
		return 0, fmt.Errorf("invalid data rate %q: must be positive", s)
	}
	bps := f * float64(factor)
	// float64(math.MaxUint64) rounds up to 2^64
	if bps >= float64(math.MaxUint64) {
		return 0, fmt.Errorf("invalid data rate %q: exceeds %d bps", s, uint64(math.MaxUint64))
	}
	if bps < 1 {
		return 0, fmt.Errorf("invalid data rate %q: below 1bps", s)
	}
	return DataRate(bps), nil
}

// MustParseDataRate is ParseDataRate for constants.
func MustParseDataRate(s string) DataRate {
	r, err := ParseDataRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String renders the rate with the largest unit that divides it evenly.
func (r DataRate) String() string {
	switch {
	case r == 0:
		return "0bps"
	case r%1_000_000_000 == 0:
		return fmt.Sprintf("%dGbps", r/1_000_000_000)
	case r%1_000_000 == 0:
		return fmt.Sprintf("%dMbps", r/1_000_000)
	case r%1_000 == 0:
		return fmt.Sprintf("%dkbps", r/1_000)
	default:
		return fmt.Sprintf("%dbps", uint64(r))
	}
}

func (r DataRate) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *DataRate) UnmarshalText(b []byte) error {
	v, err := ParseDataRate(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r DataRate) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *DataRate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}
