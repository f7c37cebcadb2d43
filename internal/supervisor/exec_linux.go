//go:build linux

package supervisor

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawn starts one worker process for slot.
func (s *ExecSpawner) Spawn(slot int) (Process, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	parent := os.NewFile(uintptr(fds[0]), "slicepool-supervisor")
	child := os.NewFile(uintptr(fds[1]), "slicepool-worker")
	defer child.Close()

	conn, err := net.FileConn(parent)
	parent.Close()
	if err != nil {
		return nil, fmt.Errorf("channel conn: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = os.Environ()
	if s.Env != nil {
		cmd.Env = append(cmd.Env, s.Env(slot)...)
	}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.ExtraFiles = []*os.File{child}
	if s.Listener != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, s.Listener)
	}
	// SIGTERM if the spawning thread dies; a worker also exits on its own
	// once its channel reaches EOF
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}

	if err := cmd.Start(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execProcess{cmd: cmd, conn: conn}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	conn net.Conn
}

func (p *execProcess) PID() int                 { return p.cmd.Process.Pid }
func (p *execProcess) Conn() io.ReadWriteCloser { return p.conn }
func (p *execProcess) Wait() error              { return p.cmd.Wait() }
func (p *execProcess) Stop() error              { return p.cmd.Process.Signal(syscall.SIGTERM) }
func (p *execProcess) Kill() error              { return p.cmd.Process.Kill() }

// InheritedConn returns the worker's end of the coordination channel
// passed by ExecSpawner.
func InheritedConn() (net.Conn, error) {
	f := os.NewFile(channelFD, "slicepool-channel")
	if f == nil {
		return nil, fmt.Errorf("fd %d not inherited", channelFD)
	}
	defer f.Close()
	return net.FileConn(f)
}

// InheritedListener returns the shared listening socket passed by
// ExecSpawner.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(listenerFD, "slicepool-listener")
	if f == nil {
		return nil, fmt.Errorf("fd %d not inherited", listenerFD)
	}
	defer f.Close()
	return net.FileListener(f)
}

// Parallelism returns the number of CPUs this process may run on, falling
// back to runtime.NumCPU when the affinity mask is unavailable.
func Parallelism() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
