package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"asyncsqlite/internal/platform/httpclient"
)

// Healthcheck probes /healthz of a running daemon. Used as a container health command.
func (a *App) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := httpclient.New(httpclient.WithLogger(a.log), httpclient.WithTimeout(3*time.Second))

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := client.GetJSON(ctx, healthURL(a.cfg.HTTP.Addr), &body); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	a.log.Info("healthy", "connections", body.Connections)
	return nil
}

// healthURL turns a listen address into a loopback URL.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/healthz"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz"
}
