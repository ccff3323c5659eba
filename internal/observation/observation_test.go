package observation

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

func testNotes() []Note {
	withBearing := &detection.Detection{
		ID:             "det-1",
		CommonName:     "Eurasian Blackbird",
		ScientificName: "Turdus merula",
		Confidence:     0.8123,
		Origin:         detection.OriginHybrid,
		Bearing:        &detection.Bearing{AngleDegrees: -17.62, Confidence: 0.71},
	}
	plain := &detection.Detection{
		ID:             "det-2",
		CommonName:     "Great Tit",
		ScientificName: "Parus major",
		Confidence:     0.5,
		Origin:         detection.OriginOffline,
	}
	return []Note{
		NewNote("dawn.wav", withBearing, 0, 3*time.Second),
		NewNote("dawn.wav", plain, 3*time.Second, 6*time.Second),
	}
}

func TestNewNote(t *testing.T) {
	notes := testNotes()
	assert.InDelta(t, 3.0, notes[0].EndTime, 1e-9)
	require.NotNil(t, notes[0].BearingDegrees)
	assert.InDelta(t, -17.62, *notes[0].BearingDegrees, 1e-9)
	assert.Nil(t, notes[1].BearingDegrees)
	assert.Nil(t, notes[1].BearingConf)
}

func TestWriteNotesTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", testNotes()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Selection\t"))
	assert.Equal(t,
		"1\tSpectrogram 1\t1\tdawn.wav\t0.0\t3.0\t0\t15000\tEurasian Blackbird\tTurdus merula\t0.8123\thybrid\t-17.6",
		lines[1])
	assert.True(t, strings.HasSuffix(lines[2], "\toffline\t"))
}

func TestWriteNotesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "CSV", testNotes()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"0.0", "3.0", "Turdus merula", "Eurasian Blackbird", "0.8123", "hybrid", "-17.6", "0.71"}, records[1])
	assert.Equal(t, "", records[2][6])
}

func TestWriteNotesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, testNotes()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "hybrid", decoded[0]["origin"])
	assert.Contains(t, decoded[0], "bearingDegrees")
	assert.NotContains(t, decoded[1], "bearingDegrees")

	buf.Reset()
	require.NoError(t, WriteNotesJSON(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "xml", nil)
	assert.ErrorIs(t, err, errors.ConfigurationError)
}
