package flow

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// csvTimeLayout matches the crawler's "02 Jan 2006, 15:04" timestamp column.
const csvTimeLayout = "02 Jan 2006, 15:04"

// LoadCSV reads a netflow CSV in the crawler layout
// (Timestamp,5m,15m,...,24h,...) into a MemoryFeed. Columns beyond the known
// window labels (market cap, long horizons) are ignored. Rows with an
// unparseable timestamp are rejected; blank flow cells become absent windows
// rather than zeros.
func LoadCSV(path string) (*MemoryFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flow csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read flow csv: %w", err)
	}
	if len(records) < 2 {
		return NewMemoryFeed(nil), nil
	}

	header := records[0]
	known := map[string]bool{
		Window5m: true, Window15m: true, Window30m: true,
		Window1h: true, Window2h: true, Window4h: true,
		Window6h: true, Window8h: true, Window12h: true, Window24h: true,
	}

	samples := make([]Sample, 0, len(records)-1)
	for lineNo, rec := range records[1:] {
		if len(rec) == 0 || rec[0] == "" {
			continue
		}
		ts, err := time.Parse(csvTimeLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("flow csv line %d: bad timestamp %q: %w", lineNo+2, rec[0], err)
		}

		windows := make(map[string]float64)
		for i := 1; i < len(rec) && i < len(header); i++ {
			label := header[i]
			if !known[label] {
				continue
			}
			v, ok := parseFlowValue(rec[i])
			if !ok {
				continue
			}
			windows[label] = v
		}
		samples = append(samples, Sample{Timestamp: ts, Windows: windows})
	}
	return NewMemoryFeed(samples), nil
}

// parseFlowValue handles the crawler's "$1.23M" / "-$456.7K" magnitudes as
// well as plain numbers.
func parseFlowValue(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return 0, false
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1e3
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult = 1e6
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult = 1e9
		s = strings.TrimSuffix(s, "B")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v * mult, true
}
