package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

func TestLoadFailedRecord(t *testing.T) {
	failed := []models.Creative{
		{AircheckID: "100", CreativeID: "c1", StationID: "7", StartTime: "2025-10-18 04:47:22.000", EndTime: "2025-10-18 04:47:52.000"},
		{AircheckID: "101", CreativeID: "c2", StationID: "7", StartTime: "2025-10-18 05:00:00.000", EndTime: "2025-10-18 05:00:30.000"},
	}
	path, err := report.WriteFailedRecord(t.TempDir(), "20251018_000000_20251018_235959", failed)
	require.NoError(t, err)

	set, err := loadFailedRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "20251018_000000_20251018_235959", set.RangeStamp)
	assert.Equal(t, path, set.Source)
	assert.Equal(t, 2, set.Len())
	assert.Empty(t, set.Rejected)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yes", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, w, err := os.Pipe()
			require.NoError(t, err)
			_, err = w.WriteString(tt.input)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			orig := os.Stdin
			os.Stdin = r
			defer func() { os.Stdin = orig; r.Close() }()

			assert.Equal(t, tt.want, confirm("Download?"))
		})
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"fetch"}, {"download"}, {"run"}, {"stage"}, {"largest"}, {"prune"},
		{"master", "show"}, {"master", "rebuild"}, {"config", "show"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
