package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskcore/internal/app"
)

func main() {
	var (
		cfgPath string
		bench   bool
		version bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.BoolVar(&bench, "bench", false, "run the directive timing suite once and exit")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(app.Version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if bench {
		go func() {
			<-sigs
			cancel()
		}()
		os.Exit(runBench(ctx, a))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	// Not running under systemd is fine; SdNotify reports (false, nil).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runBench(ctx context.Context, a *app.App) int {
	defer func() { _ = a.Stop(context.Background(), app.StopBenchFinish) }()

	rep, err := a.RunBenchmark(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "benchmark:", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintln(os.Stderr, "benchmark:", err)
		return 1
	}
	if len(rep.Regressions()) > 0 {
		return 2
	}
	return 0
}
