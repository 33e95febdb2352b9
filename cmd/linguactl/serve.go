package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cexll/linguahome-go/pkg/server"
)

func serveCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("serve", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		addrFlag   = set.String("addr", "", "Listen address (overrides the config file).")
		modelFlag  = set.String("model", "", "Override the model declared in the config file.")
		configFlag = set.String("config", cfgPath, "Path to the configuration file.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: linguactl serve [flags]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nRoutes:")
		fmt.Fprintln(streams.err, "  POST /run         Handle a single request")
		fmt.Fprintln(streams.err, "  GET  /run/stream  Stream pipeline events via SSE")
		fmt.Fprintln(streams.err, "  GET  /events      Broadcast monitor events via SSE")
		fmt.Fprintln(streams.err, "  GET  /devices     List the device catalog")
		fmt.Fprintln(streams.err, "  GET  /healthz     Health probe")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	a, err := buildApp(ctx, *configFlag, *modelFlag, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := *addrFlag
	if addr == "" {
		addr = a.cfg.Server.ListenAddr
	}

	srvOpts := []server.Option{server.WithLogger(a.logger)}
	if a.journal != nil {
		srvOpts = append(srvOpts, server.WithAudit(a.journal))
	}
	srv := server.New(a.loop, a.catalog, srvOpts...)
	go srv.MonitorBus(ctx, a.monitor)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	httpSrv := &http.Server{Handler: srv}
	if streams.out != nil {
		fmt.Fprintf(streams.out, "linguactl serve listening on http://%s\n", listener.Addr())
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
