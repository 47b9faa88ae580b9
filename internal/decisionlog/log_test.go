package decisionlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/irrigation-cli/internal/model"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "sensor_data.csv"))
	require.NoError(t, err)
	return l
}

func sampleRecord(i int) Record {
	m := model.Moisture(i % 2)
	return Record{
		Timestamp:   time.Date(2025, 6, 1, 8, 0, i%60, 0, time.Local),
		Temperature: 20 + float64(i%20),
		Humidity:    40 + float64(i%50),
		Moisture:    m,
		Crop:        []string{"Paddy", "Maize", "Wheat", "Cotton"}[i%4],
		Prediction:  model.LabelFromMoisture(m),
	}
}

func TestAppendAndRecords(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, sampleRecord(0)))
	n, err := l.AppendBatch(ctx, []Record{sampleRecord(1), sampleRecord(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, bad, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, sampleRecord(i), r)
	}
}

func TestRowFormat(t *testing.T) {
	l := newTestLog(t)
	rec := Record{
		Timestamp:   time.Date(2025, 7, 4, 14, 30, 5, 0, time.Local),
		Temperature: 31.5,
		Humidity:    62,
		Moisture:    model.MoistureDry,
		Crop:        "Cotton",
		Prediction:  model.LabelNeeded,
	}
	require.NoError(t, l.Append(context.Background(), rec))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "2025-07-04 14:30:05,31.5,62,1,Cotton,1\n", string(data))
}

func TestClear_Idempotent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	_, err := l.AppendBatch(ctx, []Record{sampleRecord(0), sampleRecord(1)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, l.Clear(ctx))
		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestClear_MissingFile(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Clear(context.Background()))
	n, err := l.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshot_MissingFile(t *testing.T) {
	l := newTestLog(t)
	rows, bad, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Nil(t, bad)
}

func TestRecords_SkipsMalformedRows(t *testing.T) {
	l := newTestLog(t)
	content := strings.Join([]string{
		"2025-06-01 08:00:00,25,80,0,Paddy,0",
		"2025-06-01 08:00:01,abc,80,0,Paddy,0",   // bad temperature
		"2025-06-01 08:00:02,25,80,0,Rice,0",     // unknown crop
		"2025-06-01 08:00:03,25,80,0,Paddy",      // missing field
		"2025-06-01 08:00:04,25,,1,Maize,1",      // empty humidity
		"2025-06-01 08:00:05,75,80,1,Maize,1",    // out of range
		"2025-06-01 08:00:06,25,80,2,Maize,1",    // bad moisture
		"2025-06-01 08:00:07,25,80,1,Maize,yes",  // bad prediction
		"25,80,1",                                 // sensor-only row
		"2025-06-01 08:00:09,40,20,1.0,Cotton,1", // float moisture is accepted
		"2025-06-01 08:00:10,NaN,20,1,Cotton,1",  // NaN temperature
		"2025-06-01 08:00:11,40,NaN,1,Cotton,1",  // NaN humidity
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0o644))

	recs, bad, err := l.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Paddy", recs[0].Crop)
	assert.Equal(t, "Cotton", recs[1].Crop)
	assert.Equal(t, model.MoistureDry, recs[1].Moisture)
	require.Len(t, bad, 10)
	assert.Equal(t, 2, bad[0].Line)
	assert.Equal(t, 9, bad[7].Line)
	assert.Equal(t, 11, bad[8].Line)
	assert.Equal(t, 12, bad[9].Line)
}

func TestAppendBatch_ConcurrentWritersDoNotInterleave(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]Record, 25)
			for i := range batch {
				batch[i] = sampleRecord(w*25 + i)
			}
			_, err := l.AppendBatch(ctx, batch)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	recs, bad, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, bad)
	assert.Len(t, recs, 200)
}

func TestAppend_CancelledContext(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Append(ctx, sampleRecord(0)))
	n, err := l.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Record{sampleRecord(1)}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,temperature,humidity,moisture,crop,prediction", lines[0])
	assert.Equal(t, strings.Join(sampleRecord(1).Row(), ","), lines[1])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	recs := []Record{sampleRecord(0), sampleRecord(3)}
	require.NoError(t, WriteXLSX(&buf, recs))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	rows := f.Sheets[0].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "timestamp", rows[0].Cells[0].String())
	assert.Equal(t, "Paddy", rows[1].Cells[4].String())
	assert.Equal(t, "Cotton", rows[2].Cells[4].String())
	assert.Equal(t, fmt.Sprint(int(recs[1].Prediction)), rows[2].Cells[5].String())
}
