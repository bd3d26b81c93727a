package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("->", "Loading queries...")

	// Then: output contains icon and message
	assert.Equal(t, "-> Loading queries...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Status("", "detail")
	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_NonTerminalHasNoColor(t *testing.T) {
	// Given: a buffer, which is never a terminal
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing every severity
	w.Success("Run complete")
	w.Warning("2 queries failed")
	w.Error("Index missing")

	// Then: plain labels without escape codes
	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "OK Run complete")
	assert.Contains(t, out, "WARN 2 queries failed")
	assert.Contains(t, out, "ERROR Index missing")
	assert.False(t, IsTerminal(buf))
}

func TestWriter_FormattedVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("#", "Found %d queries in %s", 42, "queries.jsonl")
	w.Successf("wrote %s", "run.jsonl")
	w.Warningf("%d anomalies", 3)
	w.Errorf("code %s", "ERR_201")

	out := buf.String()
	assert.Contains(t, out, "# Found 42 queries in queries.jsonl")
	assert.Contains(t, out, "wrote run.jsonl")
	assert.Contains(t, out, "3 anomalies")
	assert.Contains(t, out, "code ERR_201")
}

func TestWriter_KeyValueAndHeading(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Heading("Metrics")
	w.KeyValue("Recall@10", 0.5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Metrics", lines[0])
	assert.Contains(t, lines[1], "Recall@10:")
	assert.True(t, strings.HasSuffix(lines[1], "0.5"))
}

func TestWriter_Code_PrintsIndentedBlock(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Code("a: 1\nb: 2")

	assert.Contains(t, buf.String(), "  a: 1\n  b: 2\n")
}

func TestWriter_Progress_NonTerminalPrintsOnlyCompletion(t *testing.T) {
	// Given: a non-terminal writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: reporting partial then full progress
	w.Progress(50, 100, "Querying")
	assert.Empty(t, buf.String())
	w.Progress(100, 100, "Querying")

	// Then: one finished line is written
	assert.Contains(t, buf.String(), "100% Querying\n")
	assert.NotContains(t, buf.String(), "\r")
}

func TestWriter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	assert.NotPanics(t, func() { w.Progress(0, 0, "Processing") })
	assert.Empty(t, buf.String())
}

func TestWriter_CounterAndDoneSilentOffTerminal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Counter(10, "docs")
	w.ProgressDone()

	assert.Empty(t, buf.String())
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		want    string
	}{
		{"empty", 0, 10, "░░░░░░░░░░"},
		{"half", 5, 10, "█████░░░░░"},
		{"full", 10, 10, "██████████"},
		{"overflow clamps", 20, 10, "██████████"},
		{"zero total", 0, 0, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderProgressBar(tt.current, tt.total, 10))
		})
	}
}
