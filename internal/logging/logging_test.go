package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFilterSilencesNamedLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(Filter(core, "katcp.wire"))

	board := log.Named("board.snap0")
	board.Info("board connected")
	board.Named("katcp").Debug("request")
	board.Named("katcp").Named("wire").Debug("?wordread ch_1_sel 0")
	log.Named("katcp.wire").With(zap.String("k", "v")).Info("tx")
	log.Named("katcp.wirex").Info("kept")

	msgs := make([]string, 0, logs.Len())
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"board connected", "request", "kept"}, msgs)
}

func TestFilterWithoutNames(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Same(t, core, Filter(core))
}

func TestNewJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	log, err := New(Options{Format: "json", Verbose: true, Outputs: []string{path}})
	require.NoError(t, err)

	log.Debug("debug kept")
	log.Named("katcp").Named("wire").Debug("wire dropped")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"debug kept"`)
	assert.NotContains(t, out, "wire dropped")
}

func TestNewTraceKeepsWire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	log, err := New(Options{Format: "console", Trace: true, Outputs: []string{path}})
	require.NoError(t, err)

	log.Named("katcp").Named("wire").Debug("wire kept")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "wire kept"))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}
