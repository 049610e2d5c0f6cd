package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func (c *CLIClient) LeaseStatus(ctx context.Context, lease Lease) (*LeaseStatus, error) {
	args := c.providerArgs(lease, "lease-status")
	stdout, stderr, err := c.run(ctx, queryTimeout, c.cfg.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("lease status: %w", queryError(err, stderr))
	}

	normalized, err := jsonOutput(stdout)
	if err != nil {
		return nil, fmt.Errorf("lease status: %w", err)
	}

	var wire wireLeaseStatus
	if err := json.Unmarshal(normalized, &wire); err != nil {
		return nil, fmt.Errorf("lease status: %w", err)
	}
	return wire.status(), nil
}

func (c *CLIClient) SendManifest(ctx context.Context, lease Lease, manifestPath string) error {
	args := c.providerArgs(lease, "send-manifest", manifestPath)
	_, stderr, err := c.run(ctx, txTimeout, c.cfg.Binary, args...)
	if err != nil {
		return fmt.Errorf("send manifest: %w", queryError(err, stderr))
	}
	return nil
}

func (c *CLIClient) ServiceLogs(ctx context.Context, lease Lease, tail int) (string, error) {
	args := c.providerArgs(lease, "lease-logs")
	args = append(args, "--tail", strconv.Itoa(tail))
	stdout, stderr, err := c.run(ctx, queryTimeout, c.cfg.Binary, args...)
	if err != nil {
		return "", fmt.Errorf("lease logs: %w", queryError(err, stderr))
	}
	return string(stdout), nil
}

// Shell replaces the current process with an interactive lease-shell, the
// only way to hand the terminal over cleanly.
func (c *CLIClient) Shell(lease Lease, service string) error {
	args := c.providerArgs(lease, "lease-shell")
	args = append(args, "--tty", "--stdin", service, "/bin/bash")

	binary, err := exec.LookPath(c.cfg.Binary)
	if err != nil {
		return fmt.Errorf("open shell: %w", err)
	}
	return syscall.Exec(binary, append([]string{binary}, args...), os.Environ())
}
