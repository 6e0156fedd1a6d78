// Package main is mexec: the trivial process-replace loader a motra-client
// or motra-server scheduled unit invokes at its fire time. It reads a single
// payload descriptor written by the session/state-machine layer
// (live/<payload_id>.json) and execs the payload's command in place of
// itself — spec.md treats the loader's own internals as an out-of-scope
// external collaborator, so this binary stays intentionally thin.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: mexec <payload-descriptor.json>")
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "mexec:", err)
		os.Exit(1)
	}
}

func run(descriptorPath string) error {
	data, err := os.ReadFile(descriptorPath)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}

	var payload capcon.GenericPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse descriptor: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	if payload.Command == "" {
		return fmt.Errorf("descriptor %s has no command", payload.PayloadID)
	}

	argv := []string{"/bin/sh", "-c", payload.Command}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("resolve shell: %w", err)
	}

	return syscall.Exec(bin, argv, os.Environ())
}
