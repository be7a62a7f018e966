// ABOUTME: Boundary to the OS service manager
// ABOUTME: Exposes start/stop/is-active primitives over systemctl
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ServiceManager is the narrow contract the orchestrator and watcher
// need from the OS. Fakes implement it in tests.
type ServiceManager interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) bool
}

// Systemctl shells out to /bin/systemctl.
type Systemctl struct {
	binary string
	logger *zap.Logger
}

// New creates a systemctl-backed service manager.
func New(logger *zap.Logger) *Systemctl {
	return &Systemctl{binary: "/bin/systemctl", logger: logger}
}

// Start issues `systemctl start <unit>`.
func (s *Systemctl) Start(ctx context.Context, unit string) error {
	return s.run(ctx, "start", unit)
}

// Stop issues `systemctl stop <unit>`.
func (s *Systemctl) Stop(ctx context.Context, unit string) error {
	return s.run(ctx, "stop", unit)
}

// IsActive reports whether the unit is in the "active" state. Any
// failure to ask counts as inactive.
func (s *Systemctl) IsActive(ctx context.Context, unit string) bool {
	out, err := exec.CommandContext(ctx, s.binary, "is-active", unit).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func (s *Systemctl) run(ctx context.Context, verb, unit string) error {
	out, err := exec.CommandContext(ctx, s.binary, verb, unit).CombinedOutput()
	if err != nil {
		s.logger.Warn("systemctl failed",
			zap.String("verb", verb),
			zap.String("unit", unit),
			zap.ByteString("output", out),
			zap.Error(err))
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return nil
}
