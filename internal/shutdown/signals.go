package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Source delivers termination signals. OSSignals is the process
// adapter; tests substitute their own.
type Source interface {
	Notify(ch chan<- os.Signal)
	Stop(ch chan<- os.Signal)
}

// OSSignals relays SIGINT and SIGTERM.
type OSSignals struct{}

func (OSSignals) Notify(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}

func (OSSignals) Stop(ch chan<- os.Signal) {
	signal.Stop(ch)
}
