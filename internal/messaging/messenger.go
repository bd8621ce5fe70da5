// Package messaging defines the capability interface the engine uses to reach
// the chat platform. The engine never learns the underlying transport; it
// only resolves destinations and sends.
package messaging

import "context"

// DestinationKind says whether a resolved destination is a single reader or a
// broadcast surface. Only individual destinations get per-recipient audit
// records.
type DestinationKind string

const (
	KindIndividual DestinationKind = "individual"
	KindBroadcast  DestinationKind = "broadcast"
)

// Destination is an opaque, resolved delivery endpoint.
type Destination struct {
	Kind DestinationKind
	ID   string
	Name string
}

// Member is one user belonging to a role.
type Member struct {
	ID   string
	Name string
}

// Messenger is implemented by the external gateway collaborator.
type Messenger interface {
	// ResolveIndividual resolves an id to a single-reader destination.
	ResolveIndividual(ctx context.Context, id string) (*Destination, error)

	// ResolveBroadcastChannel resolves an id to a broadcast destination.
	ResolveBroadcastChannel(ctx context.Context, id string) (*Destination, error)

	// Send delivers a message plus optional structured payload.
	Send(ctx context.Context, dest *Destination, message string, payload map[string]interface{}) error

	// FetchRoleMembers lists the current members of a role.
	FetchRoleMembers(ctx context.Context, roleID string) ([]Member, error)
}
