package scoring

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lvonguyen/feedforge/internal/features"
)

// ColScore is the score column of externally ranked tables.
const ColScore = "score"

// External strategy names.
const (
	AIPPrioritizeNew        = "AIP Prioritize New"
	AIPPrioritizeConsistent = "AIP Prioritize Consistent"
	AbuseIPDBBlocklist      = "AbuseIPDB Blocklist"
)

// CSVSource reads a table with an identifier column "ip" or "value" and a
// numeric "score" column.
type CSVSource struct {
	Path string
}

// Load implements Source.
func (s CSVSource) Load(_ context.Context) (features.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return features.Table{}, fmt.Errorf("opening score file: %w", err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return features.Table{}, fmt.Errorf("%s: %w", s.Path, err)
	}
	return t, nil
}

// ReadCSV decodes a scored CSV table.
func ReadCSV(r io.Reader) (features.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return features.Table{}, fmt.Errorf("%w: header", ErrMissingColumn)
	}
	if err != nil {
		return features.Table{}, fmt.Errorf("reading header: %w", err)
	}

	idCol, scoreCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "value":
			idCol = i
		case "ip":
			if idCol < 0 {
				idCol = i
			}
		case ColScore:
			scoreCol = i
		}
	}
	if idCol < 0 {
		return features.Table{}, fmt.Errorf("%w: ip or value", ErrMissingColumn)
	}
	if scoreCol < 0 {
		return features.Table{}, fmt.Errorf("%w: %s", ErrMissingColumn, ColScore)
	}

	var rows []features.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return features.Table{}, fmt.Errorf("line %d: %w", line, err)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(rec[scoreCol]), 64)
		if err != nil {
			return features.Table{}, fmt.Errorf("line %d: %w: %q", line, ErrInvalidScore, rec[scoreCol])
		}
		rows = append(rows, features.Row{
			Value:  strings.TrimSpace(rec[idCol]),
			Scores: map[string]float64{ColScore: score},
		})
	}
	return features.NewTable(rows), nil
}

// TXTSource reads a plain blocklist, best entry first.
type TXTSource struct {
	Path string
}

// Load implements Source.
func (s TXTSource) Load(_ context.Context) (features.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return features.Table{}, fmt.Errorf("opening blocklist: %w", err)
	}
	defer f.Close()

	t, err := ReadTXT(f)
	if err != nil {
		return features.Table{}, fmt.Errorf("%s: %w", s.Path, err)
	}
	return t, nil
}

// ReadTXT scores the i-th listed identifier with -i. Blank lines are
// skipped.
func ReadTXT(r io.Reader) (features.Table, error) {
	var rows []features.Row
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		value := strings.TrimSpace(sc.Text())
		if value == "" {
			continue
		}
		rows = append(rows, features.Row{
			Value:  value,
			Scores: map[string]float64{ColScore: -float64(len(rows))},
		})
	}
	if err := sc.Err(); err != nil {
		return features.Table{}, fmt.Errorf("reading blocklist: %w", err)
	}
	return features.NewTable(rows), nil
}

// ExternalCSV declares a strategy ranking the scored CSV at path.
func ExternalCSV(name, path string) Strategy {
	return Strategy{Name: name, SortKey: ColScore, Capabilities: External, Source: CSVSource{Path: path}}
}

// ExternalTXT declares a strategy ranking the plain blocklist at path.
func ExternalTXT(name, path string) Strategy {
	return Strategy{Name: name, SortKey: ColScore, Capabilities: External, Source: TXTSource{Path: path}}
}
