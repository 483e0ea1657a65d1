// Package main is the entry point for svchost, a multi-service TCP server
// whose services can be added and removed at runtime through a password
// protected control session.
//
// Usage:
//
//	svchost [flags] [control <password> <port>] [<service> <port> ...]
//	svchost --proxy example.com:80:8080 time 7000
//	svchost --config /etc/svchost.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"svchost/internal/config"
	"svchost/internal/control"
	"svchost/internal/logger"
	"svchost/internal/server"
	"svchost/internal/services"
	"svchost/internal/sshctl"
)

func main() {
	logger.Init()

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		printUsage(os.Stdout)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if cfg.Control.Password == config.PromptPassword {
		pw, err := config.ReadPassword("Control password: ")
		if err != nil {
			logger.Fatal("failed to read control password", "error", err)
		}
		cfg.Control.Password = pw
	}

	logW, closeLog, err := openLog(cfg.LogPath)
	if err != nil {
		logger.Fatal("failed to open event log", "path", cfg.LogPath, "error", err)
	}
	defer closeLog()

	srv := server.New(logW, cfg.MaxConnections, server.WithBindAddress(cfg.Bind))
	if err := start(srv, cfg); err != nil {
		stopAll(srv)
		logger.Fatal("startup failed", "error", err)
	}
	logger.Info("svchost running", "max_connections", cfg.MaxConnections, "bind", cfg.Bind)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	stopAll(srv)
}

// start registers every configured service. Any failure aborts startup.
func start(srv *server.Server, cfg *config.Config) error {
	catalog := services.DefaultCatalog()

	for _, spec := range cfg.Services {
		h, err := catalog.New(spec.Name)
		if err != nil {
			return err
		}
		if err := srv.AddService(h, spec.Port); err != nil {
			return err
		}
	}
	for _, p := range cfg.Proxies {
		if err := srv.AddService(services.NewProxy(p.Host, p.RemotePort), p.LocalPort); err != nil {
			return err
		}
	}

	if cfg.Control.Port == 0 && cfg.Control.SSHPort == 0 {
		return nil
	}
	ctl, err := control.New(srv, catalog, cfg.Control.Password)
	if err != nil {
		return err
	}
	if cfg.Control.Port != 0 {
		if err := srv.AddService(ctl, cfg.Control.Port); err != nil {
			return err
		}
	}
	if cfg.Control.SSHPort != 0 {
		keyPath := cfg.Control.HostKey
		if keyPath == "" {
			if keyPath, err = config.DefaultHostKeyPath(); err != nil {
				return fmt.Errorf("failed to locate host key: %w", err)
			}
		}
		signer, err := sshctl.LoadOrCreateHostKey(keyPath, sshctl.DefaultKeyBits)
		if err != nil {
			return err
		}
		if err := srv.AddService(sshctl.NewHandler(ctl, signer), cfg.Control.SSHPort); err != nil {
			return err
		}
	}
	return nil
}

// stopAll stops accepting on every port; admitted connections are left to finish.
func stopAll(srv *server.Server) {
	for _, svc := range srv.Status().Services {
		srv.RemoveService(svc.Port)
	}
}

// openLog resolves the event log sink: "-" is stdout, empty disables it,
// anything else is a file opened for appending.
func openLog(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case config.StdoutLog:
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, config.Usage)
	fs := config.NewFlagSet()
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Services:", services.DefaultCatalog().Names())
}
