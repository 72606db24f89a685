package signal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOpinionFixture(t *testing.T, dir string, source Source, symbol, body string) {
	t.Helper()
	srcDir := filepath.Join(dir, string(source))
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, symbol+".json"), []byte(body), 0o644))
}

func TestFileOpinionsLookup(t *testing.T) {
	dir := t.TempDir()
	writeOpinionFixture(t, dir, SourceSentiment, "AAPL", `{
		"opinions": [
			{"as_of": 1000, "score": 0.2, "confidence": 0.5},
			{"as_of": 3000, "score": 0.6, "confidence": 0.8},
			{"as_of": 2000, "score": -0.1, "confidence": 0.4}
		]
	}`)

	p, err := LoadFileOpinions(dir, SourceSentiment)
	require.NoError(t, err)

	// 精确命中
	op, ok := p.Opinion("AAPL", time.UnixMilli(2000))
	require.True(t, ok)
	assert.InDelta(t, -0.1, op.Score, 1e-9)

	// 取不晚于查询时刻的最新一条
	op, ok = p.Opinion("aapl", time.UnixMilli(2500))
	require.True(t, ok)
	assert.InDelta(t, -0.1, op.Score, 1e-9)

	op, ok = p.Opinion("AAPL", time.UnixMilli(9000))
	require.True(t, ok)
	assert.InDelta(t, 0.6, op.Score, 1e-9)

	// 早于全部观点：无观点
	_, ok = p.Opinion("AAPL", time.UnixMilli(500))
	assert.False(t, ok)

	// 未知资产：无观点，不是错误
	_, ok = p.Opinion("TSLA", time.UnixMilli(2000))
	assert.False(t, ok)
}

func TestFileOpinionsMissingDirIsEmpty(t *testing.T) {
	p, err := LoadFileOpinions(filepath.Join(t.TempDir(), "nope"), SourceML)
	require.NoError(t, err)
	_, ok := p.Opinion("AAPL", time.Now())
	assert.False(t, ok)
}

func TestFileOpinionsClampsRanges(t *testing.T) {
	dir := t.TempDir()
	writeOpinionFixture(t, dir, SourceML, "BTCUSDT", `{
		"opinions": [{"as_of": 1000, "score": 3.0, "confidence": -0.5}]
	}`)
	p, err := LoadFileOpinions(dir, SourceML)
	require.NoError(t, err)
	op, ok := p.Opinion("BTCUSDT", time.UnixMilli(1000))
	require.True(t, ok)
	assert.Equal(t, 1.0, op.Score)
	assert.Equal(t, 0.0, op.Confidence)
}

func TestStaticOpinions(t *testing.T) {
	s := &StaticOpinions{Entries: map[string][]ScoredOpinion{
		"AAPL": {
			{Source: SourceML, Score: 0.1, AsOf: time.UnixMilli(1000)},
			{Source: SourceML, Score: 0.9, AsOf: time.UnixMilli(2000)},
		},
	}}
	op, ok := s.Opinion("AAPL", time.UnixMilli(1500))
	require.True(t, ok)
	assert.InDelta(t, 0.1, op.Score, 1e-9)
}
