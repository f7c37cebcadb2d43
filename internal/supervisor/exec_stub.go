//go:build !linux

package supervisor

import (
	"errors"
	"net"
	"runtime"
)

var errUnsupported = errors.New("worker processes are only supported on linux")

// Spawn always fails on this platform.
func (s *ExecSpawner) Spawn(slot int) (Process, error) {
	return nil, errUnsupported
}

func InheritedConn() (net.Conn, error) { return nil, errUnsupported }

func InheritedListener() (net.Listener, error) { return nil, errUnsupported }

func Parallelism() int { return runtime.NumCPU() }
