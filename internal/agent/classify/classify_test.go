package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	cases := []struct {
		input  string
		class  string
		waitMs int64
	}{
		{"please compose a song about rain", "media-creation", 60_000},
		{"what are the latest headlines", "news-query", 15_000},
		{"upload the video and reply to each comment", "automation", 30_000},
		{"how tall is the eiffel tower", "general", 20_000},
		{"Play Some MUSIC", "media-creation", 60_000},
	}
	for _, tc := range cases {
		d := table.Classify(tc.input)
		assert.Equal(t, tc.class, d.Class, "input %q", tc.input)
		assert.Equal(t, tc.waitMs, d.WaitMs, "input %q", tc.input)
	}
}

func TestFirstMatchWins(t *testing.T) {
	table := Default()
	// Contains both a media and a news keyword; the media rule is
	// listed first.
	d := table.Classify("latest music release")
	assert.Equal(t, "media-creation", d.Class)
}

func TestLoadYAMLTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - class: billing
    keywords: [invoice, refund]
    wait_ms: 10000
    specialist: finance
default:
  wait_ms: 25000
  specialist: catchall
`), 0o644))

	table, err := Load(path)
	require.NoError(t, err)

	d := table.Classify("please issue a refund")
	assert.Equal(t, "billing", d.Class)
	assert.Equal(t, int64(10_000), d.WaitMs)
	assert.Equal(t, "finance", d.Specialist)

	d = table.Classify("anything else")
	assert.Equal(t, "general", d.Class)
	assert.Equal(t, int64(25_000), d.WaitMs)
	assert.Equal(t, "catchall", d.Specialist)
}

func TestLoadRejectsIncompleteRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - class: broken
    keywords: []
    wait_ms: 1000
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSliceBudget(t *testing.T) {
	assert.Equal(t, []int64{8000, 8000, 4000}, SliceBudget(20_000, 8000))
	assert.Equal(t, []int64{8000}, SliceBudget(8000, 8000))
	assert.Equal(t, []int64{5000}, SliceBudget(5000, 8000))
	assert.Nil(t, SliceBudget(0, 8000))
	assert.Equal(t, []int64{9000}, SliceBudget(9000, 0))
}
