package status

import "sync"

// Event is one call recorded by a Recorder.
type Event struct {
	State    State
	Message  string
	Phase    Phase
	Fraction float64
	Progress bool
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Status(state State, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{State: state, Message: message})
}

func (r *Recorder) Progress(phase Phase, fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Phase: phase, Fraction: fraction, Progress: true})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// States returns the recorded state transitions in order.
func (r *Recorder) States() []State {
	var states []State
	for _, e := range r.Events() {
		if !e.Progress {
			states = append(states, e.State)
		}
	}
	return states
}

// Fractions returns the recorded progress values for phase in order.
func (r *Recorder) Fractions(phase Phase) []float64 {
	var out []float64
	for _, e := range r.Events() {
		if e.Progress && e.Phase == phase {
			out = append(out, e.Fraction)
		}
	}
	return out
}
