//go:build unix

// Package daemon detaches the server into the background.
//
// The Go runtime cannot fork, so the parent re-executes its own binary.
// The child runs in a new session with "/" as its working directory and
// /dev/null on stdin, stdout and stderr. The already-listening socket is
// passed down as fd 3 so the child serves the port the parent bound.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
)

const (
	// EnvChild marks the re-executed background process.
	EnvChild = "AESDSOCKET_DAEMON_CHILD"

	// listenerFD is the first ExtraFiles slot in the child.
	listenerFD = 3
)

var (
	ErrNoInheritedListener = errors.New("daemon: no inherited listener")
	ErrListenerNotFile     = errors.New("daemon: listener cannot expose its file")
)

// Detacher starts a background copy of the process that takes over ln.
// It returns the child pid; the caller exits afterwards.
type Detacher interface {
	Detach(ln net.Listener) (int, error)
}

// IsChild reports whether this process is the detached copy.
func IsChild() bool {
	return os.Getenv(EnvChild) == "1"
}

// Exec detaches by re-executing a binary.
type Exec struct {
	// Executable defaults to os.Executable().
	Executable string
	// Args defaults to os.Args[1:].
	Args []string
	// ExtraEnv is appended to the inherited environment.
	ExtraEnv []string
	// Start defaults to (*exec.Cmd).Start.
	Start func(*exec.Cmd) error
}

var _ Detacher = Exec{}

type filer interface {
	File() (*os.File, error)
}

func (e Exec) Detach(ln net.Listener) (int, error) {
	cmd, closeFiles, err := e.command(ln)
	if err != nil {
		return 0, err
	}
	defer closeFiles()

	start := e.Start
	if start == nil {
		start = (*exec.Cmd).Start
	}
	if err := start(cmd); err != nil {
		return 0, fmt.Errorf("daemon: start child: %w", err)
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
		_ = cmd.Process.Release()
	}
	return pid, nil
}

// command builds the child invocation. closeFiles releases the parent's
// copies of the descriptors handed to the child.
func (e Exec) command(ln net.Listener) (*exec.Cmd, func(), error) {
	exe := e.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("daemon: resolve executable: %w", err)
		}
	}
	args := e.Args
	if args == nil {
		args = os.Args[1:]
	}

	lf, ok := ln.(filer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrListenerNotFile, ln)
	}
	lnFile, err := lf.File()
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: listener file: %w", err)
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		_ = lnFile.Close()
		return nil, nil, fmt.Errorf("daemon: open %s: %w", os.DevNull, err)
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(append(os.Environ(), e.ExtraEnv...), EnvChild+"=1")
	cmd.Dir = "/"
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.ExtraFiles = []*os.File{lnFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	closeFiles := func() {
		_ = lnFile.Close()
		_ = devNull.Close()
	}
	return cmd, closeFiles, nil
}

// InheritedListener rebuilds the listener passed down by the parent.
func InheritedListener() (net.Listener, error) {
	return listenerFromFD(listenerFD)
}

func listenerFromFD(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, "aesdsocket-listener")
	if f == nil {
		return nil, ErrNoInheritedListener
	}
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInheritedListener, err)
	}
	return ln, nil
}
