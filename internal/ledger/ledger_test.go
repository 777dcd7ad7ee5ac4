package ledger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afi-canon/internal/mapping"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "revert_ledger.csv")
	l := Open(path)

	entry := Entry{
		Dataset: "enrolment", Column: "state_clean", KeyState: "Orissa",
		From: "Orissa", To: "Odisha", Source: SourceStateManual,
	}
	require.NoError(t, l.Append(entry, entry))
	require.NoError(t, l.Append(Entry{
		Dataset: "enrolment", Column: "pincode", From: "100000", To: "UNKNOWN", Source: SourceRemap,
	}))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2, "duplicate entry must be written once")
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "Odisha", entries[0].To)
	assert.Equal(t, SourceRemap, entries[1].Source)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,from,to,dataset,timestamp,column,key_state,key_district,source\n"))
	assert.Equal(t, 1, strings.Count(string(data), "id,from,to"), "header written once")
}

func TestEntriesMissingFile(t *testing.T) {
	entries, err := Open(filepath.Join(t.TempDir(), "none.csv")).Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{ID: "1", Dataset: "enrolment", Source: SourceManual},
		{ID: "2", Dataset: "biometric", Source: SourceManual},
		{ID: "3", Dataset: "enrolment", Source: SourceRemap},
	}
	assert.Len(t, Filter(entries, ByDataset("enrolment")), 2)
	assert.Len(t, Filter(entries, BySource(SourceRemap)), 1)
	got := Filter(entries, ByIDs("2", "3"))
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
}

func TestRevertIsSelective(t *testing.T) {
	in := strings.Join([]string{
		"state,district,state_clean,district_clean",
		"Meghalaya,East Khasi Hills,Meghalaya,West Khasi Hills",
		"Meghalaya,West Khasi Hills,Meghalaya,West Khasi Hills",
		"Meghalaya,East Khasi Hills,Meghalaya,West Khasi Hills",
		"Assam,Kamrup,Assam,Kamrup Metropolitan",
	}, "\n") + "\n"

	entries := []Entry{{
		ID: "01A", Dataset: "enrolment", Column: "district_clean",
		KeyState: "Meghalaya", KeyDistrict: "East Khasi Hills",
		From: "East Khasi Hills", To: "West Khasi Hills", Source: SourceManual,
	}}

	var out bytes.Buffer
	res, err := Revert(context.Background(), strings.NewReader(in), &out, entries, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.Restored)
	require.Len(t, res.Applied, 1)

	want := strings.Join([]string{
		"state,district,state_clean,district_clean",
		"Meghalaya,East Khasi Hills,Meghalaya,East Khasi Hills",
		"Meghalaya,West Khasi Hills,Meghalaya,West Khasi Hills",
		"Meghalaya,East Khasi Hills,Meghalaya,East Khasi Hills",
		"Assam,Kamrup,Assam,Kamrup Metropolitan",
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())
}

func TestRevertUnwindsChains(t *testing.T) {
	in := "state,district,state_clean\nOrissa,Cuttack,Odisha\n"
	entries := []Entry{
		{Column: "state_clean", KeyState: "Orissa", From: "Orissa", To: "Orisa"},
		{Column: "state_clean", KeyState: "Orissa", From: "Orisa", To: "Odisha"},
	}
	var out bytes.Buffer
	_, err := Revert(context.Background(), strings.NewReader(in), &out, entries, 10)
	require.NoError(t, err)
	assert.Equal(t, "state,district,state_clean\nOrissa,Cuttack,Orissa\n", out.String())
}

func TestRevertFileAppendsReverseEntries(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "clean.csv")
	outPath := filepath.Join(dir, "reverted.csv")
	require.NoError(t, os.WriteFile(inPath, []byte("state,district,pincode\nKerala,Kochi,UNKNOWN\n"), 0o644))

	l := Open(filepath.Join(dir, "ledger.csv"))
	entries := []Entry{{Dataset: "enrolment", Column: "pincode", From: "100000", To: "UNKNOWN", Source: SourceRemap}}

	res, err := RevertFile(context.Background(), l, inPath, outPath, entries, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "state,district,pincode\nKerala,Kochi,100000\n", string(data))

	logged, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, SourceRevert, logged[0].Source)
	assert.Equal(t, "UNKNOWN", logged[0].From)
	assert.Equal(t, "100000", logged[0].To)
}

func TestRevertFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.csv")
	_, err := RevertFile(context.Background(), nil, filepath.Join(dir, "absent.csv"), outPath, nil, 10)
	require.Error(t, err)
	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr), "no output on missing input")
}

func TestRevertLayer(t *testing.T) {
	layer := RevertLayer([]Entry{
		{ID: "a", Column: "district_clean", KeyState: "Meghalaya", KeyDistrict: "East Khasi Hills", From: "East Khasi Hills", To: "West Khasi Hills"},
		{ID: "b", Column: "state_clean", KeyState: "Orissa", From: "Orissa", To: "Odisha"},
		{ID: "c", Column: "pincode", KeyState: "Kerala", KeyDistrict: "Kochi", From: "100000", To: "UNKNOWN"},
	})

	assert.Equal(t, mapping.SourceReverted, layer.Source)
	require.Len(t, layer.Records, 1)
	r := layer.Records[0]
	assert.Equal(t, mapping.NewKey("Meghalaya", "East Khasi Hills"), r.Key)
	assert.Equal(t, "East Khasi Hills", r.CanonicalDistrict)
	assert.Empty(t, r.CanonicalState)

	auto := mapping.NewLayer(mapping.SourceManual, []mapping.Record{{
		Key: r.Key, CanonicalState: "Meghalaya", CanonicalDistrict: "West Khasi Hills", Tier: mapping.TierHigh,
	}})
	merged, ok := mapping.Merge(auto, layer).Lookup(r.Key)
	require.True(t, ok)
	assert.Equal(t, "Meghalaya", merged.CanonicalState)
	assert.Equal(t, "East Khasi Hills", merged.CanonicalDistrict)
	assert.Equal(t, mapping.SourceReverted, merged.Source)
}
