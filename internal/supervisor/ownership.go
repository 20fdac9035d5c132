package supervisor

// Ownership describes who runs the daemon on the configured port.
type Ownership int

const (
	// Unmanaged: nothing listens and this supervisor never started rigctld.
	Unmanaged Ownership = iota
	// ManagedRunning: the supervisor's child is alive.
	ManagedRunning
	// ManagedStopped: the supervisor started rigctld before and it is gone now.
	ManagedStopped
	// ExternalRunning: something this supervisor does not own holds the port.
	ExternalRunning
)

func (o Ownership) String() string {
	switch o {
	case ManagedRunning:
		return "managed_running"
	case ManagedStopped:
		return "managed_stopped"
	case ExternalRunning:
		return "external_running"
	default:
		return "unmanaged"
	}
}

func resolveOwnership(managed, everStarted, listening bool) Ownership {
	switch {
	case managed:
		return ManagedRunning
	case listening:
		return ExternalRunning
	case everStarted:
		return ManagedStopped
	default:
		return Unmanaged
	}
}
