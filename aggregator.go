package gridflow

// aggregator buffers partial arrivals of named dependencies for one
// connection until a complete set exists. Each connection tracks its buffer
// independently, so one output can satisfy several connections. The buffer
// itself lives in State.Waitings so that snapshots capture it.
type aggregator struct {
	index  int
	from   []string
	counts map[string]int // occurrence count per dependency name
}

func newAggregator(index int, conn Connection, counts map[string]int) *aggregator {
	return &aggregator{index: index, from: conn.From, counts: counts}
}

// offer appends one arrived payload to the buffer queue for name. Arrivals
// for names outside the from set are ignored.
func (a *aggregator) offer(st *State, name string, payload any) {
	if a.counts[name] == 0 {
		return
	}
	buf := st.Waitings[a.index]
	buf[name] = append(buf[name], payload)
}

// ready reports whether every name's queue holds at least that name's
// occurrence count in from.
func (a *aggregator) ready(st *State) bool {
	buf := st.Waitings[a.index]
	for name, count := range a.counts {
		if len(buf[name]) < count {
			return false
		}
	}
	return true
}

// take dequeues exactly one buffered payload per from occurrence, oldest
// first, and returns them in declared from order. Callers must have checked
// ready.
func (a *aggregator) take(st *State) []any {
	buf := st.Waitings[a.index]
	payloads := make([]any, len(a.from))
	for i, name := range a.from {
		queue := buf[name]
		payloads[i] = queue[0]
		if len(queue) == 1 {
			delete(buf, name)
		} else {
			buf[name] = queue[1:]
		}
	}
	return payloads
}
