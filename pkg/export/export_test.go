package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridsteer/kecc/core/coordinator"
)

func sampleRecords() []coordinator.CycleRecord {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []coordinator.CycleRecord{
		{
			Timestamp:      ts,
			CycleID:        "c1",
			Strategy:       "equal",
			BudgetA:        32,
			ActiveChargers: 2,
			Balancing:      true,
			Allocations: map[string]coordinator.AllocationStatus{
				"192.0.2.11": {MilliAmps: 16000, Reason: "equal_split", Applied: true},
				"192.0.2.10": {MilliAmps: 16000, Reason: "equal_split", Applied: true},
			},
		},
		{
			Timestamp:          ts.Add(10 * time.Second),
			CycleID:            "c2",
			Strategy:           "equal",
			BudgetA:            10,
			ActiveChargers:     2,
			Balancing:          true,
			InsufficientBudget: true,
		},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRecords()))

	var got []coordinator.CycleRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "c1", got[0].CycleID)
	require.Equal(t, int64(16000), got[0].Allocations["192.0.2.10"].MilliAmps)
	require.True(t, got[1].InsufficientBudget)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	// Header, two allocation rows for c1, one placeholder row for c2.
	require.Len(t, rows, 4)
	require.Equal(t, "timestamp", rows[0][0])
	require.Equal(t, "192.0.2.10", rows[1][7])
	require.Equal(t, "192.0.2.11", rows[2][7])
	require.Equal(t, "16000", rows[1][8])
	require.Equal(t, "c2", rows[3][1])
	require.Equal(t, "", rows[3][7])
	require.Equal(t, "true", rows[3][6])
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
