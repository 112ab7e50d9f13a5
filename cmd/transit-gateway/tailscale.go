// ABOUTME: Tailscale tsnet listener setup for serving on a tailnet.
// ABOUTME: Supports plain tailnet listeners, auto-TLS, and public Funnel.

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/tsnet"

	"github.com/2389/transit-gateway/internal/config"
)

// resolveTailscaleStateDir returns the state directory, using a
// per-user default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "transit-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and returns the
// listener to serve on plus a cleanup func closing the node.
func setupTailscaleListener(ctx context.Context, tsCfg config.TailscaleConfig, logger *slog.Logger) (net.Listener, func(), error) {
	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)

	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	ln, err := createTailscaleHTTPListener(srv, tsCfg, logger)
	if err != nil {
		_ = srv.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = ln.Close()
		_ = srv.Close()
	}
	return ln, cleanup, nil
}

// createTailscaleHTTPListener creates the appropriate listener based
// on config: Funnel gets public HTTPS, everything else serves HTTPS
// inside the tailnet with auto-provisioned certs.
func createTailscaleHTTPListener(srv *tsnet.Server, tsCfg config.TailscaleConfig, logger *slog.Logger) (net.Listener, error) {
	if tsCfg.Funnel {
		logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := srv.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	logger.Info("enabling HTTPS with tailscale certs on :443")
	ln, err := srv.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := srv.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
