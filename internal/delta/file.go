package delta

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMissingKey is returned for delta documents without iocs or date.
var ErrMissingKey = snapshot.ErrMissingKey

// File is the on-disk delta document.
type File struct {
	IOCs Map       `json:"iocs"`
	Date time.Time `json:"-"`
}

type fileDoc struct {
	IOCs *Map    `json:"iocs"`
	Date *string `json:"date"`
}

// Encode writes f as {"iocs": {...}, "date": "ISO"}.
func Encode(w io.Writer, f File) error {
	date := snapshot.FormatDate(f.Date)
	iocs := f.IOCs
	if iocs == nil {
		iocs = Map{}
	}
	return json.NewEncoder(w).Encode(fileDoc{IOCs: &iocs, Date: &date})
}

// Decode reads a delta document.
func Decode(r io.Reader) (File, error) {
	var doc fileDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return File{}, fmt.Errorf("decoding delta file: %w", err)
	}
	if doc.IOCs == nil {
		return File{}, fmt.Errorf("%w: iocs", ErrMissingKey)
	}
	if doc.Date == nil {
		return File{}, fmt.Errorf("%w: date", ErrMissingKey)
	}

	date, err := snapshot.ParseDate(*doc.Date)
	if err != nil {
		return File{}, fmt.Errorf("date: %w", err)
	}
	return File{IOCs: *doc.IOCs, Date: date}, nil
}

// WriteFile writes f to path.
func WriteFile(path string, f File) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating delta file: %w", err)
	}
	if err := Encode(out, f); err != nil {
		out.Close()
		return fmt.Errorf("writing delta file: %w", err)
	}
	return out.Close()
}

// ReadFile reads the delta document at path.
func ReadFile(path string) (File, error) {
	in, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("opening delta file: %w", err)
	}
	defer in.Close()

	f, err := Decode(in)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// CacheKey is the stable store key for the delta between two reference
// dates. variant names the load filters that produced both snapshots, so
// deltas of differently filtered dumps never share an entry.
func CacheKey(variant string, baselineDate, recentDate time.Time) string {
	if variant == "" {
		return fmt.Sprintf("delta:%s:%s", snapshot.FormatDate(baselineDate), snapshot.FormatDate(recentDate))
	}
	return fmt.Sprintf("delta:%s:%s:%s", variant, snapshot.FormatDate(baselineDate), snapshot.FormatDate(recentDate))
}

// Cached behaves like Between but serves and fills store. A nil store
// computes directly.
func Cached(ctx context.Context, store cache.Store, variant string, baseline, recent *snapshot.Snapshot) (Map, time.Time, error) {
	if store == nil {
		return Between(baseline, recent)
	}

	baselineDate, recentDate, err := CheckOrder(baseline, recent)
	if err != nil {
		return nil, time.Time{}, err
	}

	key := CacheKey(variant, baselineDate, recentDate)
	if blob, ok, err := store.Get(ctx, key); err != nil {
		return nil, time.Time{}, err
	} else if ok {
		var m Map
		if err := json.Unmarshal(blob, &m); err != nil {
			return nil, time.Time{}, fmt.Errorf("decoding cached delta %s: %w", key, err)
		}
		return m, recentDate, nil
	}

	m := Calculate(baseline, baselineDate, recent)
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("encoding delta: %w", err)
	}
	if err := store.Set(ctx, key, blob); err != nil {
		return nil, time.Time{}, err
	}
	return m, recentDate, nil
}
