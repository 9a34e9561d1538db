package harvest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTriggerFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	triggers := filepath.Join(dir, "triggers")
	require.NoError(t, os.MkdirAll(triggers, 0o755))

	startDates := "1,2013,3,21\n30,2013,5,21\n"
	require.NoError(t, os.WriteFile(filepath.Join(triggers, "start-dates.csv"), []byte(startDates), 0o644))

	tg30 := "7300,20,1,METAR ARRIVES\n10000,0,2,TFR CANCELLED\n"
	require.NoError(t, os.WriteFile(filepath.Join(triggers, "tg30.csv"), []byte(tg30), 0o644))
	return dir
}

func TestLoadTriggers(t *testing.T) {
	dir := writeTriggerFixtures(t)

	triggers, err := LoadTriggers(dir, 30)
	require.NoError(t, err)
	require.Len(t, triggers, 2)

	midnight := time.Date(2013, 5, 21, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, midnight.Add(7320*time.Second), triggers[0].At, "adjustment shifts the fire time")
	assert.Equal(t, 1, triggers[0].Number)
	assert.Equal(t, "METAR ARRIVES", triggers[0].Name)
	assert.Equal(t, 7320, triggers[0].Offset)
	assert.Equal(t, 7300, triggers[0].Raw)
	assert.Equal(t, 20, triggers[0].Adjust)

	assert.Equal(t, midnight.Add(10000*time.Second), triggers[1].At)
	assert.Equal(t, "TFR CANCELLED", triggers[1].Name)
	assert.Zero(t, triggers[1].Adjust)
}

func TestLoadTriggersUnknownGroup(t *testing.T) {
	dir := writeTriggerFixtures(t)

	_, err := LoadTriggers(dir, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test group 7 not listed")
}

func TestLoadTriggersBadRow(t *testing.T) {
	dir := t.TempDir()
	triggers := filepath.Join(dir, "triggers")
	require.NoError(t, os.MkdirAll(triggers, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(triggers, "start-dates.csv"), []byte("2,2013,3,21\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(triggers, "tg02.csv"), []byte("oops,0,1,BAD\n"), 0o644))

	_, err := LoadTriggers(dir, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time offset")
}

func TestPrepareResultsRebuildsTree(t *testing.T) {
	dir := writeTriggerFixtures(t)
	triggers, err := LoadTriggers(dir, 30)
	require.NoError(t, err)

	// A previous run left stale output behind.
	stale := filepath.Join(ResultsDir(dir, 30), "01", "METAR.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	root, err := PrepareResults(dir, 30, triggers)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "results", "tg30"), root)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "old results are wiped")

	for _, sub := range []string{"01", "02"} {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
