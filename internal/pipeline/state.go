package pipeline

// State is the current activity of a worker.
type State uint8

const (
	Idle State = iota
	Fetching
	Resolving
	Diffing
	Writing
	Drained
)

var stateNames = [...]string{"idle", "fetching", "resolving", "diffing", "writing", "drained"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (p *Pipeline) setState(worker int, s State) {
	p.mu.Lock()
	p.states[worker] = s
	p.mu.Unlock()
}

// WorkerStates returns a snapshot of every worker's state.
func (p *Pipeline) WorkerStates() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, len(p.states))
	copy(out, p.states)
	return out
}
