package cluster

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dreamware/slicepool/internal/slice"
)

// Kind names a coordination request. Each kind is routable in both
// directions: a worker asks the supervisor to orchestrate the whole pool,
// and the supervisor asks a single worker to act on its own state.
type Kind string

const (
	KindRequestLoad             Kind = "REQUEST_LOAD"
	KindUpdateResponsibleSlices Kind = "UPDATE_RESPONSIBLE_SLICES"
	KindPing                    Kind = "PING"
)

// ErrPeerUnreachable is returned when the other end of a channel has gone
// away before or while a request was outstanding.
var ErrPeerUnreachable = errors.New("peer unreachable")

// RemoteError carries an error returned by the peer's handler.
type RemoteError struct {
	Kind    Kind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote: %s", e.Kind, e.Message)
}

// UpdateSlicesRequest is the payload of KindUpdateResponsibleSlices.
type UpdateSlicesRequest struct {
	Slices []slice.Slice `json:"slices"`
}

// Ack is the generic success reply.
type Ack struct {
	OK bool `json:"ok"`
}

// envelope is one framed message on the wire. Requests carry Kind, replies
// set Reply and echo the request ID.
type envelope struct {
	ID      uint64          `json:"id"`
	Kind    Kind            `json:"kind"`
	Reply   bool            `json:"reply,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
