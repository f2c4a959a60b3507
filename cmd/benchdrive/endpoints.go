package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mlsbench/mlsbench/internal/config"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/lg"
	"github.com/mlsbench/mlsbench/internal/sshconn"
)

// buildEndpoints constructs the roster's endpoints: local scratch
// directories with rendered client configs, or remote endpoints spread
// round-robin over the configured hosts. The returned cleanup tears
// everything down.
func buildEndpoints(cfg *config.Config, logger lg.Logger) ([]*endpoint.Endpoint, func(), error) {
	if cfg.Remote {
		return buildRemoteEndpoints(cfg, logger)
	}
	return buildLocalEndpoints(cfg, logger)
}

func buildLocalEndpoints(cfg *config.Config, logger lg.Logger) ([]*endpoint.Endpoint, func(), error) {
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.RemoveAll(workDir); err != nil {
		return nil, nil, fmt.Errorf("clear work dir: %w", err)
	}
	clientCfg, err := cfg.ClientConfigYAML()
	if err != nil {
		return nil, nil, err
	}

	names := cfg.ClientNames()
	eps := make([]*endpoint.Endpoint, 0, len(names))
	for _, name := range names {
		dir := filepath.Join(workDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create endpoint dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, config.ClientConfigName), []byte(clientCfg), 0o644); err != nil {
			return nil, nil, fmt.Errorf("write client config: %w", err)
		}
		eps = append(eps, endpoint.NewLocal(name, dir))
	}
	logger.Info("local endpoints ready", lg.Int("count", len(eps)), lg.String("dir", workDir))

	cleanup := func() {
		for _, ep := range eps {
			ep.Close()
		}
		os.RemoveAll(workDir)
	}
	return eps, cleanup, nil
}

func buildRemoteEndpoints(cfg *config.Config, logger lg.Logger) ([]*endpoint.Endpoint, func(), error) {
	clients := make([]*sshconn.Client, 0, len(cfg.Hosts))
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for _, h := range cfg.Hosts {
		user := h.User
		if user == "" {
			user = cfg.SSHUser
		}
		cli, err := sshconn.Dial(h.Addr, sshconn.Options{
			User:    user,
			KeyPath: cfg.SSHKeyPath,
			MaxWait: time.Duration(cfg.MaxSSHWaitSec) * time.Second,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		logger.Info("connected", lg.String("host", h.Addr))
		clients = append(clients, cli)
	}

	// Endpoints spread round-robin so one host's endpoints belong to many
	// groups, matching how the partitioner interleaves members.
	names := cfg.ClientNames()
	eps := make([]*endpoint.Endpoint, len(names))
	for hi, cli := range clients {
		for ii := 0; ii < cfg.ClientsPerHost; ii++ {
			idx := ii*len(clients) + hi
			if idx >= len(names) {
				continue
			}
			name := names[idx]
			eps[idx] = endpoint.NewRemote(name, cli, "~/"+name+"/")
		}
	}
	for i, ep := range eps {
		if ep == nil {
			closeAll()
			return nil, nil, fmt.Errorf("not enough host capacity for endpoint %d: %d hosts x %d clients", i, len(clients), cfg.ClientsPerHost)
		}
	}
	return eps, closeAll, nil
}
