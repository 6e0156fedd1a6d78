// Package schedbridge builds and submits one-shot, timer-triggered local job
// submissions that hand off to an out-of-band local timer daemon (spec.md
// §4.4, §6.3). The core never tracks these jobs after submission — the
// daemon's internals are opaque.
//
// The command-construction and synchronous-invocation idiom here follows
// agent/internal/hooks/runner.go: build an *exec.Cmd, capture combined
// stdout/stderr, and treat a failing subprocess as a logged warning rather
// than a propagated error, because (per spec.md §4.4) the protocol has
// already committed by the time a submission fires.
package schedbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// UnitType identifies which installed systemd-style unit a submission
// triggers. The set is closed (spec.md §4.4).
type UnitType string

const (
	UnitClient       UnitType = "motra-client"
	UnitClientMexec  UnitType = "motra-client-mexec"
	UnitServerMexec  UnitType = "motra-server-mexec"
	UnitServer       UnitType = "motra-server"
)

// ErrUnknownUnitType is returned when a Submission names a unit type outside
// the closed set above (spec.md §7 UnknownUnitType).
var ErrUnknownUnitType = errors.New("schedbridge: unknown unit type")

func (u UnitType) valid() bool {
	switch u {
	case UnitClient, UnitClientMexec, UnitServerMexec, UnitServer:
		return true
	default:
		return false
	}
}

// Submission describes a single one-shot, timer-triggered job (spec.md §4.4).
type Submission struct {
	UnitType UnitType
	// InstanceID is used as the per-test suffix of the unit name.
	InstanceID string
	// StartDelta is a relative time, e.g. "3s", "2m".
	StartDelta string
	// Accuracy is the scheduling accuracy, e.g. "10ms". Defaults to
	// DefaultAccuracy when empty.
	Accuracy string
	// Template indicates whether the unit name uses the "@" instance
	// separator (systemd template unit convention).
	Template bool
}

// DefaultAccuracy is used when a Submission leaves Accuracy empty (spec.md
// §4.4).
const DefaultAccuracy = "10ms"

// unitName renders "<type>[@]<instance>.service" per spec.md §4.4/§6.3.
func (s Submission) unitName() string {
	if s.Template {
		return fmt.Sprintf("%s@%s.service", s.UnitType, s.InstanceID)
	}
	return fmt.Sprintf("%s%s.service", s.UnitType, s.InstanceID)
}

// Materialise produces the argv for a systemd-run-shaped command line
// encoding "at now + StartDelta, with accuracy Accuracy, execute the
// installed unit identified by <unit_type>[@]<instance_id>" (spec.md §6.3).
//
// Implementations MAY substitute an equivalent local timer mechanism but
// MUST preserve this semantics — see spec.md §6.3.
func Materialise(s Submission) ([]string, error) {
	if !s.UnitType.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnitType, s.UnitType)
	}
	if s.InstanceID == "" {
		return nil, errors.New("schedbridge: instance_id must not be empty")
	}
	if s.StartDelta == "" {
		return nil, errors.New("schedbridge: start_delta must not be empty")
	}

	accuracy := s.Accuracy
	if accuracy == "" {
		accuracy = DefaultAccuracy
	}

	return []string{
		"sudo", "systemd-run",
		fmt.Sprintf("--on-active=%s", s.StartDelta),
		"--unit", s.unitName(),
		"--timer-property", fmt.Sprintf("AccuracySec=%s", accuracy),
	}, nil
}

// Bridge submits materialised scheduler jobs and logs their outcome. The
// zero value is not usable — create with New.
type Bridge struct {
	logger *zap.Logger
	// runTimeout bounds how long a single submission invocation may run;
	// the submission itself only registers a timer with the daemon and
	// returns immediately, so this is a generous safety margin, not a
	// measurement-affecting deadline.
	runTimeout time.Duration
}

// New creates a Bridge that logs to logger.Named("schedbridge").
func New(logger *zap.Logger) *Bridge {
	return &Bridge{logger: logger.Named("schedbridge"), runTimeout: 10 * time.Second}
}

// Submit materialises s and runs it synchronously. A non-zero exit code or
// exec error is logged as a warning and NOT returned as an error: per
// spec.md §4.4/§7 (SchedulerSubmitFailed), the core must not fail the
// protocol on scheduler-submission errors because the protocol has already
// committed by the time Submit is called.
func (b *Bridge) Submit(ctx context.Context, s Submission) {
	argv, err := Materialise(s)
	if err != nil {
		b.logger.Warn("refusing to submit malformed scheduler job",
			zap.String("unit_type", string(s.UnitType)),
			zap.String("instance_id", s.InstanceID),
			zap.Error(err),
		)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, b.runTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		b.logger.Warn("scheduler submission exited non-zero",
			zap.String("unit_type", string(s.UnitType)),
			zap.String("instance_id", s.InstanceID),
			zap.String("argv", fmt.Sprint(argv)),
			zap.String("output", buf.String()),
			zap.Error(err),
		)
		return
	}

	b.logger.Info("scheduler job submitted",
		zap.String("unit_type", string(s.UnitType)),
		zap.String("instance_id", s.InstanceID),
		zap.String("start_delta", s.StartDelta),
		zap.String("output", buf.String()),
	)
}

// SubmitAll submits every submission in order (spec.md §5 "Ordering
// guarantees": the client's motra-client unit first, then each
// motra-client-mexec in CapCon-payload order — callers are responsible for
// accumulating submissions in that order).
func (b *Bridge) SubmitAll(ctx context.Context, submissions []Submission) {
	for _, s := range submissions {
		b.Submit(ctx, s)
	}
}
