package status

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "checking for update", CheckingUpdate.String())
	assert.Equal(t, "Checking For Update", CheckingUpdate.Title())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "download", PhaseDownload.String())
	assert.Equal(t, "apply", PhaseApply.String())
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		NoUpdateAvailable:   true,
		ReplicationLaunched: true,
		Done:                true,
		Failed:              true,
	}
	for s := Idle; s <= Failed; s++ {
		assert.Equal(t, terminal[s], s.Terminal(), s.String())
	}
}

func TestMonotonic(t *testing.T) {
	rec := &Recorder{}
	m := NewMonotonic(rec)

	for _, f := range []float64{0, 0.3, 0.2, 0.5, -1, 2} {
		m.Progress(PhaseDownload, f)
	}
	m.Progress(PhaseApply, 0.1)
	m.Status(Downloading, "downloading")

	assert.Equal(t, []float64{0, 0.3, 0.3, 0.5, 0.5, 1}, rec.Fractions(PhaseDownload))
	assert.Equal(t, []float64{0.1}, rec.Fractions(PhaseApply))
	assert.Equal(t, []State{Downloading}, rec.States())
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi{a, b, Nop{}}

	sink.Status(Applying, "applying")
	sink.Progress(PhaseApply, 0.5)

	for _, r := range []*Recorder{a, b} {
		assert.Equal(t, []State{Applying}, r.States())
		assert.Equal(t, []float64{0.5}, r.Fractions(PhaseApply))
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	sink := NewLog(logger)

	sink.Status(Downloading, "downloading 1.2.0")
	sink.Status(Failed, "apply failed")
	sink.Progress(PhaseDownload, 0.01)
	sink.Progress(PhaseDownload, 0.02)
	sink.Progress(PhaseDownload, 1)

	out := buf.String()
	assert.Contains(t, out, "downloading 1.2.0")
	assert.Contains(t, out, "ERRO")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("progress")), "small steps are coalesced")
}
