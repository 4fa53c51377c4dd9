package eventlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shaunagostinho/gridlink/internal/grid"
)

func event(id int, typ grid.EventType, at time.Time) grid.Event {
	return grid.Event{ID: "ev-" + string(typ), Timestamp: at, LightID: id, Type: typ, Message: "Light, with comma"}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir}, zaptest.NewLogger(t))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(event(2, grid.EventFault, at), "sess-1"))
	require.NoError(t, l.Record(event(2, grid.EventClear, at.Add(time.Second)), "sess-1"))
	path := l.Path()
	require.NoError(t, l.Close())

	assert.Equal(t, "gridlink_2024-05-01_120000.000.csv", filepath.Base(path))
	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "ev-fault", "2", "fault", "Light, with comma", "sess-1"}, rows[1])
	assert.Equal(t, "clear", rows[2][3])
}

func TestRecordRotatesAfterMaxRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, MaxRows: 2}, zaptest.NewLogger(t))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(event(1, grid.EventFault, at.Add(time.Duration(i)*time.Second)), ""))
	}
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "gridlink_*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 3)

	total := 0
	for _, f := range files {
		rows := readCSV(t, f)
		assert.Equal(t, csvHeader, rows[0])
		total += len(rows) - 1
	}
	assert.Equal(t, 5, total)
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	l := New(Config{Path: dir}, zaptest.NewLogger(t))

	require.NoError(t, l.Record(event(1, grid.EventFault, time.Now()), ""))
	assert.False(t, l.IsEnabled())
	assert.NoDirExists(t, dir)

	l.SetEnabled(true)
	require.NoError(t, l.Record(event(1, grid.EventFault, time.Now()), ""))
	assert.NotEmpty(t, l.Path())

	l.SetEnabled(false)
	assert.Empty(t, l.Path())
	require.NoError(t, l.Close())
}

func TestRecordFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	l := New(Config{Enabled: true, Path: file}, zaptest.NewLogger(t))
	assert.Error(t, l.Record(event(1, grid.EventFault, time.Now()), ""))
}
