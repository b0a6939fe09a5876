package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_MarshalUnmarshalRoundTrip(t *testing.T) {
	e := Entry{Datetime: "2024-01-01T00:00:00Z", Key: []byte(`"name"`), Value: []byte(`"Felix"`)}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `["2024-01-01T00:00:00Z","name","Felix"]`, string(data))

	var got Entry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.Datetime, got.Datetime)
	assert.JSONEq(t, string(e.Key), string(got.Key))
	assert.JSONEq(t, string(e.Value), string(got.Value))
}

func TestEntryWithPath_MarshalUnmarshalRoundTrip(t *testing.T) {
	e := EntryWithPath{
		Path:  []string{"cats", "felix"},
		Entry: Entry{Datetime: "2024-01-01T00:00:00Z", Key: []byte(`"name"`), Value: []byte(`"Felix"`)},
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `[["cats","felix"],"2024-01-01T00:00:00Z","name","Felix"]`, string(data))

	var got EntryWithPath
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.Path, got.Path)
	assert.Equal(t, e.Datetime, got.Datetime)
}

func TestEntry_KeyTextIsExactJSONBytes(t *testing.T) {
	e := Entry{Key: []byte(`"name"`)}
	assert.Equal(t, `"name"`, e.KeyText())
}

func TestAppData_IsLegacy(t *testing.T) {
	recent := "2024-05-01"
	old := "2023-01-01"
	lowVersion := 1
	highVersion := 2

	cases := []struct {
		name string
		data AppData
		want bool
	}{
		{"never active", AppData{LastActive: nil, SupportedVersion: &lowVersion}, false},
		{"too old", AppData{LastActive: &old, SupportedVersion: &lowVersion}, false},
		{"never declared supported version", AppData{LastActive: &recent}, false},
		{"recent and behind", AppData{LastActive: &recent, SupportedVersion: &lowVersion}, true},
		{"recent and current", AppData{LastActive: &recent, SupportedVersion: &highVersion}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.data.IsLegacy("2024-01-01", 2))
		})
	}
}
