// Package status defines how update progress is reported: the handoff
// states, the progress phases and the Sink that receives both.
package status

import (
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// State is a step of the handoff state machine.
type State int

const (
	Idle State = iota
	CheckingUpdate
	NoUpdateAvailable
	PreparingReplication
	ReplicationLaunched
	Downloading
	Applying
	Relaunching
	SelfCleaning
	Done
	Failed
)

var stateNames = [...]string{
	Idle:                 "idle",
	CheckingUpdate:       "checking for update",
	NoUpdateAvailable:    "no update available",
	PreparingReplication: "preparing replication",
	ReplicationLaunched:  "replication launched",
	Downloading:          "downloading",
	Applying:             "applying",
	Relaunching:          "relaunching",
	SelfCleaning:         "cleaning up",
	Done:                 "done",
	Failed:               "failed",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Title returns the state name in title case for display.
func (s State) Title() string {
	return cases.Title(language.English).String(s.String())
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case NoUpdateAvailable, ReplicationLaunched, Done, Failed:
		return true
	}
	return false
}

// Phase is a step that reports fractional progress.
type Phase int

const (
	PhaseDownload Phase = iota
	PhaseApply
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDownload:
		return "download"
	case PhaseApply:
		return "apply"
	}
	return "unknown"
}

// Sink receives state transitions and progress. Implementations must not
// block for long; the pipeline calls them inline.
type Sink interface {
	Status(state State, message string)
	Progress(phase Phase, fraction float64)
}

// Nop is a Sink that drops everything.
type Nop struct{}

func (Nop) Status(State, string)    {}
func (Nop) Progress(Phase, float64) {}

// Log is a Sink that writes transitions to a logger. Progress is logged at
// debug level in whole-percent steps.
type Log struct {
	logger *log.Logger

	mu   sync.Mutex
	last map[Phase]int
}

// NewLog creates a Log sink.
func NewLog(logger *log.Logger) *Log {
	return &Log{logger: logger, last: map[Phase]int{}}
}

// Status logs the transition; Failed is logged as an error.
func (l *Log) Status(state State, message string) {
	switch state {
	case Failed:
		l.logger.Error(message, "state", state)
	default:
		l.logger.Info(message, "state", state)
	}
}

// Progress logs each new whole percentage of a phase.
func (l *Log) Progress(phase Phase, fraction float64) {
	pct := int(fraction * 100)

	l.mu.Lock()
	prev, seen := l.last[phase]
	if seen && pct/10 == prev/10 && pct != 100 {
		l.mu.Unlock()
		return
	}
	l.last[phase] = pct
	l.mu.Unlock()

	l.logger.Debug("progress", "phase", phase, "percent", pct)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) Status(state State, message string) {
	for _, s := range m {
		s.Status(state, message)
	}
}

func (m Multi) Progress(phase Phase, fraction float64) {
	for _, s := range m {
		s.Progress(phase, fraction)
	}
}

// Monotonic wraps a sink so that progress is clamped to [0,1] and never
// decreases within a phase.
type Monotonic struct {
	next Sink

	mu   sync.Mutex
	high map[Phase]float64
}

// NewMonotonic wraps next.
func NewMonotonic(next Sink) *Monotonic {
	return &Monotonic{next: next, high: map[Phase]float64{}}
}

func (m *Monotonic) Status(state State, message string) {
	m.next.Status(state, message)
}

func (m *Monotonic) Progress(phase Phase, fraction float64) {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}

	m.mu.Lock()
	if high, ok := m.high[phase]; ok && fraction < high {
		fraction = high
	}
	m.high[phase] = fraction
	m.mu.Unlock()

	m.next.Progress(phase, fraction)
}
