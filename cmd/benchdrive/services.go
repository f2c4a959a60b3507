package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"

	"github.com/mlsbench/mlsbench/internal/config"
	"github.com/mlsbench/mlsbench/internal/lg"
)

const serviceStartTimeout = 60 * time.Second

// startLocalServices restarts the authentication and delivery services the
// clients talk to, fresh and non-persistent, and waits until both ports
// accept connections.
func startLocalServices(ctx context.Context, cfg *config.Config, logger lg.Logger) error {
	if cfg.ASBinary == "" || cfg.DSBinary == "" {
		return fmt.Errorf("run_services needs as_binary and ds_binary")
	}

	// Kill leftovers from a previous run; no match is fine.
	exec.Command("pkill", "-f", "delivery_service").Run()
	exec.Command("pkill", "-f", "authentication_service").Run()

	for _, bin := range []string{cfg.ASBinary, cfg.DSBinary} {
		cmd := exec.Command(bin, "-f", "--non-persistent")
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", bin, err)
		}
		go cmd.Wait()
	}

	for _, port := range []int{cfg.ASPort, cfg.DSPort} {
		if err := waitForPort(ctx, cfg.ServerHost, port); err != nil {
			return err
		}
	}
	logger.Info("services running",
		lg.Int("as_port", cfg.ASPort), lg.Int("ds_port", cfg.DSPort))
	return nil
}

func waitForPort(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	deadline := time.Now().Add(serviceStartTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("service on %s did not come up within %s", addr, serviceStartTimeout)
}
