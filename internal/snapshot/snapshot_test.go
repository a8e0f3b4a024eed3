package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/feedforge/internal/cache"
)

const sampleDump = `{"iocs": [
	{"value": "1.1.1.1", "scanner": true, "payload_request": false, "interaction_count": 10,
	 "login_attempts": 2, "attack_count": 3, "first_seen": "2024-01-01", "last_seen": "2024-01-03",
	 "days_seen": ["2024-01-01", "2024-01-03"], "honeypots": ["cowrie"], "destination_port_count": 1,
	 "asn": 13335, "ip_reputation": ""},
	{"value": "2.2.2.2", "scanner": false, "interaction_count": 5,
	 "login_attempts": 0, "first_seen": "2024-01-02", "last_seen": "2024-01-02",
	 "days_seen": ["2024-01-02"], "honeypots": [], "destination_port_count": 1,
	 "asn": null, "ip_reputation": ""},
	{"value": "3.3.3.3", "scanner": true, "interaction_count": 7,
	 "login_attempts": 1, "first_seen": "2024-01-02", "last_seen": "2024-01-04T08:30:00",
	 "days_seen": ["2024-01-02", "2024-01-04"], "honeypots": ["log4pot", "cowrie"], "destination_port_count": 2,
	 "asn": "AS3320", "ip_reputation": "mass scanner"},
	{"value": "", "scanner": true, "interaction_count": 1,
	 "login_attempts": 0, "first_seen": "2024-01-02", "last_seen": "2024-01-02",
	 "days_seen": ["2024-01-02"], "honeypots": [], "destination_port_count": 1,
	 "asn": null, "ip_reputation": null}
]}`

// =============================================================================
// Decode Tests
// =============================================================================

// TestDecode_FiltersPayloadRequestsAndEmptyValues verifies the default
// filters keep only scanners with an identifier.
func TestDecode_FiltersPayloadRequestsAndEmptyValues(t *testing.T) {
	snap, err := Decode(strings.NewReader(sampleDump), DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 2, snap.Len())
	assert.Equal(t, "1.1.1.1", snap.Records[0].Value)
	assert.Equal(t, "3.3.3.3", snap.Records[1].Value)
}

// TestDecode_ExcludeReputation verifies a configured reputation is dropped.
func TestDecode_ExcludeReputation(t *testing.T) {
	opts := DefaultOptions()
	opts.ExcludeReputation = MassScanner

	snap, err := Decode(strings.NewReader(sampleDump), opts)
	require.NoError(t, err)

	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "1.1.1.1", snap.Records[0].Value)
}

// TestDecode_KeepPayloadRequesters verifies OnlyScanners=false keeps them.
func TestDecode_KeepPayloadRequesters(t *testing.T) {
	snap, err := Decode(strings.NewReader(sampleDump), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
}

// TestDecode_FieldConversion verifies dates, asn and optional fields.
func TestDecode_FieldConversion(t *testing.T) {
	snap, err := Decode(strings.NewReader(sampleDump), Options{})
	require.NoError(t, err)

	first := snap.Records[0]
	assert.Equal(t, "13335", first.ASN)
	assert.Equal(t, int64(3), first.AttackCount)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), first.LastSeen)
	require.Len(t, first.DaysSeen, 2)

	second := snap.Records[1]
	assert.Equal(t, "None", second.ASN)
	assert.Equal(t, int64(0), second.AttackCount)

	third := snap.Records[2]
	assert.Equal(t, "AS3320", third.ASN)
	assert.Equal(t, time.Date(2024, 1, 4, 8, 30, 0, 0, time.UTC), third.LastSeen)
}

// TestDecode_MissingKeyIsFatal verifies records without required keys abort
// the load and name the key.
func TestDecode_MissingKeyIsFatal(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"no iocs", `{"data": []}`, "iocs"},
		{"no value", `{"iocs": [{"scanner": true}]}`, "value"},
		{
			"no days_seen",
			`{"iocs": [{"value": "a", "scanner": true, "interaction_count": 1, "login_attempts": 0,
			  "first_seen": "2024-01-01", "last_seen": "2024-01-01", "honeypots": [],
			  "destination_port_count": 1, "asn": 1, "ip_reputation": ""}]}`,
			"days_seen",
		},
		{
			"no asn",
			`{"iocs": [{"value": "a", "scanner": true, "interaction_count": 1, "login_attempts": 0,
			  "first_seen": "2024-01-01", "last_seen": "2024-01-01", "days_seen": ["2024-01-01"],
			  "honeypots": [], "destination_port_count": 1, "ip_reputation": ""}]}`,
			"asn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc), DefaultOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingKey)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// TestDecode_NullASNAndReputation verifies keys present with null decode to
// their defaults while absent keys still abort the load.
func TestDecode_NullASNAndReputation(t *testing.T) {
	const record = `"value": "a", "scanner": true, "interaction_count": 1, "login_attempts": 0,
		"first_seen": "2024-01-01", "last_seen": "2024-01-01", "days_seen": ["2024-01-01"],
		"honeypots": [], "destination_port_count": 1`

	snap, err := Decode(strings.NewReader(`{"iocs": [{`+record+`, "asn": null, "ip_reputation": null}]}`), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "None", snap.Records[0].ASN)
	assert.Empty(t, snap.Records[0].IPReputation)

	_, err = Decode(strings.NewReader(`{"iocs": [{`+record+`, "asn": null}]}`), DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), "ip_reputation")
}

// TestDecode_MalformedDateIsFatal verifies bad dates abort the load.
func TestDecode_MalformedDateIsFatal(t *testing.T) {
	doc := `{"iocs": [{"value": "a", "scanner": true, "interaction_count": 1, "login_attempts": 0,
		"first_seen": "2024-01-01", "last_seen": "01/02/2024", "days_seen": ["2024-01-01"],
		"honeypots": [], "destination_port_count": 1, "asn": 1, "ip_reputation": ""}]}`

	_, err := Decode(strings.NewReader(doc), DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedDate)
	assert.Contains(t, err.Error(), "last_seen")
}

// TestDecode_UsesDateCache verifies the injected cache memoises parsing.
func TestDecode_UsesDateCache(t *testing.T) {
	dates := cache.NewMemory[string, time.Time]()
	opts := DefaultOptions()
	opts.Dates = dates

	_, err := Decode(strings.NewReader(sampleDump), opts)
	require.NoError(t, err)

	stats := dates.Stats()
	assert.Greater(t, stats.Hits, int64(0))
	assert.Equal(t, 4, stats.Entries)
}

// TestLoad_File verifies Load reads from disk and records the source.
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gbdump_20240104.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDump), 0o644))

	snap, err := Load(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, path, snap.Source)
	assert.Equal(t, 2, snap.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), DefaultOptions())
	assert.Error(t, err)
}

// =============================================================================
// Snapshot & Date Tests
// =============================================================================

// TestReferenceDate verifies the reference date is the latest last_seen.
func TestReferenceDate(t *testing.T) {
	snap, err := Decode(strings.NewReader(sampleDump), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 4, 8, 30, 0, 0, time.UTC), snap.ReferenceDate())
	assert.True(t, (&Snapshot{}).ReferenceDate().IsZero())

	rec, ok := snap.Lookup("1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, int64(10), rec.InteractionCount)
	_, ok = snap.Lookup("9.9.9.9")
	assert.False(t, ok)
}

// TestDateHelpers verifies parsing, formatting and day arithmetic.
func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28", FormatDate(d))

	ts, err := ParseDate("2024-02-28T13:14:15.5")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28T13:14:15.5", FormatDate(ts))

	later, _ := ParseDate("2024-03-01T01:00:00")
	assert.Equal(t, 2, DaysBetween(d, later))
	assert.Equal(t, -2, DaysBetween(later, d))

	_, err = ParseDate("yesterday")
	assert.ErrorIs(t, err, ErrMalformedDate)
}
