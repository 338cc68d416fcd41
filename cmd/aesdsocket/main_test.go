package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/danmuck/aesdsocket/internal/server"
)

// envRunMain makes the test binary behave as aesdsocket itself, so
// tests can exec os.Args[0] as the real program.
const envRunMain = "AESDSOCKET_TEST_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(envRunMain) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestRootCommandDaemonFlag(t *testing.T) {
	cases := map[string]struct {
		args []string
		want bool
	}{
		"foreground": {args: []string{}, want: false},
		"short":      {args: []string{"-d"}, want: true},
		"long":       {args: []string{"--daemon"}, want: true},
	}
	for name, tc := range cases {
		var got bool
		called := false
		cmd := newRootCmd(func(daemonMode bool) error {
			called = true
			got = daemonMode
			return nil
		})
		cmd.SetArgs(tc.args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%s: execute: %v", name, err)
		}
		if !called || got != tc.want {
			t.Fatalf("%s: daemon=%v called=%v, want daemon=%v", name, got, called, tc.want)
		}
	}
}

func TestRootCommandRejectsExtraInput(t *testing.T) {
	for _, args := range [][]string{{"extra"}, {"--port", "9000"}} {
		cmd := newRootCmd(func(bool) error {
			t.Fatalf("run should not be called for %v", args)
			return nil
		})
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestReportPrintsOnlyUnloggedErrors(t *testing.T) {
	var buf bytes.Buffer
	setup := fmt.Errorf("%w: bind: address in use", server.ErrSetup)
	report(&buf, loggedError{setup})
	if buf.Len() != 0 {
		t.Fatalf("logged error printed again: %q", buf.String())
	}
	if !errors.Is(loggedError{setup}, server.ErrSetup) {
		t.Fatalf("loggedError hides the wrapped error")
	}

	report(&buf, errors.New("unknown flag: --port"))
	if got := buf.String(); got != "aesdsocket: unknown flag: --port\n" {
		t.Fatalf("stderr = %q", got)
	}
}
