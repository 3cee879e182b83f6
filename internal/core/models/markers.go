package models

// DoNotAutoRegister marks a type that package scanning must skip.
// Embed NoAutoRegister to satisfy it.
type DoNotAutoRegister interface {
	doNotAutoRegister()
}

type NoAutoRegister struct{}

func (NoAutoRegister) doNotAutoRegister() {}

// NetworkEvent marks an event type that is handed to the replication sink
// once local dispatch has finished. Embed Replicated to satisfy it.
type NetworkEvent interface {
	networkEvent()
}

type Replicated struct{}

func (Replicated) networkEvent() {}
