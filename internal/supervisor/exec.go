package supervisor

import (
	"io"
	"os"
)

// Descriptors a spawned worker inherits after stdin, stdout and stderr.
const (
	channelFD  = 3
	listenerFD = 4
)

// ExecSpawner starts workers by executing Path (normally the running
// binary) with the worker's end of a socketpair on fd 3 and, when Listener
// is set, the shared listening socket on fd 4. All workers accept on the
// same port.
type ExecSpawner struct {
	Path string
	Args []string

	// Env returns extra environment entries for the worker at slot, on top
	// of the supervisor's own environment.
	Env func(slot int) []string

	Listener *os.File

	Stdout io.Writer
	Stderr io.Writer
}
