package coordinator

// Listener receives every snapshot a coordinator publishes.
//
// OnSnapshot runs on the refreshing goroutine and blocks the next refresh
// until it returns. It must not call Shutdown on the same coordinator.
type Listener interface {
	OnSnapshot(Snapshot)
}

// ListenerFunc adapts a plain function to the Listener interface
type ListenerFunc func(Snapshot)

// OnSnapshot calls f(s)
func (f ListenerFunc) OnSnapshot(s Snapshot) {
	f(s)
}

// ListenerID identifies a registered listener for removal
type ListenerID uint64

type registration struct {
	id       ListenerID
	listener Listener
}
