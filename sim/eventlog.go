// Implements the append-only simulation event log and the observer bus that
// fans events out to subscribers (CSV export, mirroring, metrics).

package sim

// EventType identifies the kind of a SimulationEvent.
type EventType string

const (
	EventArrival     EventType = "arrival"
	EventStart       EventType = "start"
	EventEnd         EventType = "end"
	EventFailure     EventType = "failure"
	EventRepairStart EventType = "repair_start"
	EventRepairEnd   EventType = "repair_end"
	EventComplete    EventType = "complete"
)

// SimulationEvent is one entry of the canonical event log. Events are never
// mutated after insertion; log order is emission order (ties are not
// re-sorted).
//
// JobID, MachineID and QueueLength use -1 for "not applicable"; Duration uses
// a negative value for the same.
type SimulationEvent struct {
	Time        float64
	Type        EventType
	JobID       int
	MachineID   int
	Duration    float64
	QueueLength int
	Info        string // free-form extra detail, exported verbatim
}

// Observer receives a simulation event synchronously at emission time.
// Observers may schedule further simulation actions but must not block.
type Observer func(SimulationEvent)

// EventBus fans simulation events out to any number of subscribers per event
// kind. It replaces single-slot callback fields: registering a second observer
// never silently drops the first.
type EventBus struct {
	byType map[EventType][]Observer
	all    []Observer
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]Observer)}
}

// Subscribe registers fn for events of kind t.
func (b *EventBus) Subscribe(t EventType, fn Observer) {
	b.byType[t] = append(b.byType[t], fn)
}

// SubscribeAll registers fn for every event kind.
func (b *EventBus) SubscribeAll(fn Observer) {
	b.all = append(b.all, fn)
}

// Publish delivers ev synchronously to all-type subscribers first, then to
// subscribers of ev's kind, in registration order.
func (b *EventBus) Publish(ev SimulationEvent) {
	for _, fn := range b.all {
		fn(ev)
	}
	for _, fn := range b.byType[ev.Type] {
		fn(ev)
	}
}

// EventLog accumulates simulation events in emission order.
type EventLog struct {
	events []SimulationEvent
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{events: make([]SimulationEvent, 0)}
}

// Record appends ev. Satisfies Observer.
func (l *EventLog) Record(ev SimulationEvent) {
	l.events = append(l.events, ev)
}

// Events returns the log contents in emission order. The returned slice is
// the log's internal storage and must not be modified.
func (l *EventLog) Events() []SimulationEvent {
	return l.events
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	return len(l.events)
}

// ByType returns all events of kind t, preserving emission order.
func (l *EventLog) ByType(t EventType) []SimulationEvent {
	var out []SimulationEvent
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ByJob returns all events carrying the given job id.
func (l *EventLog) ByJob(jobID int) []SimulationEvent {
	var out []SimulationEvent
	for _, ev := range l.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

// ByMachine returns all events carrying the given machine id.
func (l *EventLog) ByMachine(machineID int) []SimulationEvent {
	var out []SimulationEvent
	for _, ev := range l.events {
		if ev.MachineID == machineID {
			out = append(out, ev)
		}
	}
	return out
}

// Summary counts events per kind.
func (l *EventLog) Summary() map[EventType]int {
	counts := make(map[EventType]int)
	for _, ev := range l.events {
		counts[ev.Type]++
	}
	return counts
}

// Reset clears the log for a fresh run.
func (l *EventLog) Reset() {
	l.events = l.events[:0]
}

// newEvent builds an event with all optional fields marked unset.
func newEvent(t EventType, time float64) SimulationEvent {
	return SimulationEvent{
		Time:        time,
		Type:        t,
		JobID:       -1,
		MachineID:   -1,
		Duration:    -1,
		QueueLength: -1,
	}
}
