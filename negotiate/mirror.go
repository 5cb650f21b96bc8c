package negotiate

import "github.com/jobshop-sim/jobshop-sim/sim"

// mirrorNames maps internal event types to the observer feed's vocabulary.
// Event types with no mapping are not mirrored.
var mirrorNames = map[sim.EventType]string{
	sim.EventArrival:   EventOrderArrived,
	sim.EventStart:     EventMachineStarted,
	sim.EventEnd:       EventMachineFinished,
	sim.EventFailure:   EventMachineFailed,
	sim.EventRepairEnd: EventMachineRepaired,
	sim.EventComplete:  EventJobCompleted,
}

// AttachMirror subscribes the client's observer feed to every mappable event
// on the bus. Mirroring is fire-and-forget: a delivery failure is logged
// inside NotifyEvent and never stalls the simulation.
func AttachMirror(bus *sim.EventBus, c *Client) {
	bus.SubscribeAll(func(ev sim.SimulationEvent) {
		name, ok := mirrorNames[ev.Type]
		if !ok {
			return
		}
		var jobID, machineID *int
		if ev.JobID >= 0 {
			id := ev.JobID
			jobID = &id
		}
		if ev.MachineID >= 0 {
			id := ev.MachineID
			machineID = &id
		}
		c.NotifyEvent(name, ev.Time, jobID, machineID, ev.Info)
	})
}
