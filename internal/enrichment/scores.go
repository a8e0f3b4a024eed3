package enrichment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ScoreFilePrefix starts every score file name.
const ScoreFilePrefix = "aipdscores_"

// ScoreFileName names a score file fetched at t.
func ScoreFileName(t time.Time) string {
	return ScoreFilePrefix + t.Format("200601021504") + ".json"
}

// WriteScores encodes reports as a list of single-entry {ip: report} objects.
func WriteScores(w io.Writer, reports []Report) error {
	doc := make([]map[string]Report, 0, len(reports))
	for _, r := range reports {
		doc = append(doc, map[string]Report{r.IPAddress: r})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding score file: %w", err)
	}
	return nil
}

// WriteScoresFile writes reports into dir under ScoreFileName(t) and returns
// the path.
func WriteScoresFile(dir string, t time.Time, reports []Report) (string, error) {
	path := filepath.Join(dir, ScoreFileName(t))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating score file: %w", err)
	}
	if err := WriteScores(f, reports); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing score file: %w", err)
	}
	return path, nil
}

// ReadScores decodes a score file into a map keyed by IP address. A later
// entry for the same address replaces an earlier one.
func ReadScores(r io.Reader) (map[string]Report, error) {
	var doc []map[string]Report
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding score file: %w", err)
	}
	out := make(map[string]Report, len(doc))
	for _, entry := range doc {
		for ip, report := range entry {
			out[ip] = report
		}
	}
	return out, nil
}

// LoadScores reads the confidence-of-abuse score of every address in the
// score file at path.
func LoadScores(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening score file: %w", err)
	}
	defer f.Close()

	reports, err := ReadScores(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	scores := make(map[string]float64, len(reports))
	for ip, r := range reports {
		scores[ip] = r.AbuseConfidenceScore
	}
	return scores, nil
}
