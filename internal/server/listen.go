//go:build unix

package server

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

var ErrSetup = errors.New("server: setup failed")

// Listen binds an IPv4 TCP socket with SO_REUSEADDR and the given
// backlog. net.Listen takes its backlog from somaxconn, so the socket is
// built by hand and handed to the runtime poller afterwards.
func Listen(addr string, backlog int) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrSetup, addr, err)
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrSetup, err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: setsockopt SO_REUSEADDR: %v", ErrSetup, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind %s: %v", ErrSetup, addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: listen: %v", ErrSetup, err)
	}

	f := os.NewFile(uintptr(fd), "aesdsocket-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("%w: file listener: %v", ErrSetup, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("%w: unexpected listener type %T", ErrSetup, ln)
	}
	return tcpLn, nil
}
