package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
)

func TestNewMappingCatalog(t *testing.T) {
	records := []MappingRecord{
		{EquipTag: "GPS001", MessageID: "GLL001", Object: "Geo.Latitude", ValueType: "float"},
		{EquipTag: "GPS001", MessageID: "GLL002", Object: "Geo.Longitude", ValueType: "float"},
		{EquipTag: "ENG001", MessageID: "RPM001", Object: "Engine.RPM", ValueType: "int"},
	}

	cat, err := NewMappingCatalog(records)
	require.NoError(t, err)
	assert.Equal(t, 3, cat.Len())

	rule, ok := cat.Lookup("GPS001", "GLL001")
	require.True(t, ok)
	assert.Equal(t, "Geo.Latitude", rule.Object)
	assert.Equal(t, message.TypeFloat, rule.Type)
	assert.Equal(t, "GPS001/GLL001", rule.Key().String())

	_, ok = cat.Lookup("UNKNOWN001", "GLL001")
	assert.False(t, ok)
}

func TestNewMappingCatalog_DuplicateKey(t *testing.T) {
	records := []MappingRecord{
		{EquipTag: "GPS001", MessageID: "GLL001", Object: "Geo.Latitude", ValueType: "float"},
		{EquipTag: "GPS001", MessageID: "GLL001", Object: "Geo.Other", ValueType: "float"},
	}

	_, err := NewMappingCatalog(records)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateRule)
	assert.True(t, errors.IsFatal(err))
}

func TestNewMappingCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		record MappingRecord
	}{
		{"missing equip tag", MappingRecord{MessageID: "A", Object: "O", ValueType: "int"}},
		{"missing message id", MappingRecord{EquipTag: "T", Object: "O", ValueType: "int"}},
		{"missing object", MappingRecord{EquipTag: "T", MessageID: "A", ValueType: "int"}},
		{"unknown value type", MappingRecord{EquipTag: "T", MessageID: "A", Object: "O", ValueType: "decimal"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewMappingCatalog([]MappingRecord{test.record})
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestLoadMappingCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	content := `mappings:
  - equip_tag: GPS001
    message_id: GLL001
    object: Geo.Latitude
    value_type: float
  - equip_tag: TEMP001
    message_id: TMP001
    object: Env.Temperature
    value_type: float
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := LoadMappingCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	rule, ok := cat.Lookup("TEMP001", "TMP001")
	require.True(t, ok)
	assert.Equal(t, "Env.Temperature", rule.Object)
}

func TestLoadMappingCatalog_Errors(t *testing.T) {
	_, err := LoadMappingCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mappings: {not: [a, list"), 0o644))
	_, err = LoadMappingCatalog(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}
