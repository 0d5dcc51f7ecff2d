package ad

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"admin-activead/internal/cfg"
	"admin-activead/internal/common"

	"github.com/masterzen/winrm"
)

// Runner executes a PowerShell script and returns its standard output.
// A non-zero exit status is reported as an error carrying stderr.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// NewRunner builds the runner selected by the AD connection settings.
func NewRunner(s cfg.ADSettings) (Runner, error) {
	switch s.Connection {
	case common.ADConnectionLocal:
		return &LocalRunner{}, nil
	case common.ADConnectionWinRM:
		return NewWinRMRunner(s)
	default:
		return nil, fmt.Errorf("unknown AD connection %q", s.Connection)
	}
}

// LocalRunner runs scripts with the PowerShell binary of the host, which
// needs the ActiveDirectory module installed.
type LocalRunner struct {
	// Binary defaults to "powershell"; "pwsh" works for PowerShell 7.
	Binary string
}

func (r *LocalRunner) Run(ctx context.Context, script string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "powershell"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-NoProfile", "-NonInteractive", "-Command", script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("powershell failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// WinRMRunner runs scripts on a remote Windows host over WinRM.
type WinRMRunner struct {
	client *winrm.Client
	host   string
}

func NewWinRMRunner(s cfg.ADSettings) (*WinRMRunner, error) {
	endpoint := winrm.NewEndpoint(s.Host, s.Port, s.HTTPS, s.Insecure, nil, nil, nil, s.Timeout)
	client, err := winrm.NewClient(endpoint, s.User, s.Pass)
	if err != nil {
		return nil, fmt.Errorf("create winrm client for %s: %w", s.Host, err)
	}
	return &WinRMRunner{client: client, host: s.Host}, nil
}

func (r *WinRMRunner) Run(ctx context.Context, script string) (string, error) {
	stdout, stderr, code, err := r.client.RunPSWithContext(ctx, script)
	if err != nil {
		return "", fmt.Errorf("winrm %s: %w", r.host, err)
	}
	if code != 0 {
		return "", fmt.Errorf("winrm %s: exit code %d: %s", r.host, code, strings.TrimSpace(stderr))
	}
	return stdout, nil
}
