package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/spf13/pflag"

	"torvpn/pkg/config"
	"torvpn/pkg/hopplan"
	"torvpn/pkg/journal"
	"torvpn/pkg/logx"
	"torvpn/pkg/model"
	"torvpn/pkg/platform"
	"torvpn/pkg/status"
	"torvpn/pkg/store"
	"torvpn/pkg/supervisor"
	"torvpn/pkg/version"
)

var log = logging.MustGetLogger("torvpnd")

func main() {
	fs := pflag.NewFlagSet("torvpnd", pflag.ExitOnError)
	config.RegisterFlags(fs)
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("torvpnd version=%s\n", version.Build)
		return
	}

	path, _ := fs.GetString("config")
	cfg, err := config.Load(path, fs)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logx.Init(cfg.LogLevel); err != nil {
		log.Fatalf("log level: %v", err)
	}
	log.Infof("torvpnd version=%s state-dir=%s", version.Build, cfg.StateDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st, err := store.Open(cfg.Store, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	j, err := journal.Open(cfg.Journal, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	torPath, err := supervisor.FindTor(cfg.Tor.PathHint)
	if err != nil {
		return &supervisor.SpawnError{Err: err}
	}
	hooks := platform.New(cfg, torPath)
	audit(ctx, j, "platform-apply", hooks.Apply(ctx))
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		audit(tctx, j, "platform-teardown", hooks.Teardown(tctx))
	}()

	proc, err := supervisor.Start(ctx, cfg, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("start tor: %w", err)
	}
	defer proc.Stop()

	outcomes, err := supervisor.ApplyExitAndProxy(ctx, cfg, cfg.StateDir, st)
	audit(ctx, j, "startup-apply", outcomes)
	if err != nil {
		return fmt.Errorf("apply exit policy: %w", err)
	}
	for _, o := range model.Failed(outcomes) {
		log.Warningf("startup step %s failed: %s", o.Step, o.Error)
	}

	if w, ok := st.(store.Watcher); ok {
		go w.Watch(ctx, store.HopStateDoc, func(b []byte) {
			hs := hopplan.Parse(b)
			log.Infof("hop plan at idx=%d, next rotation in %ds",
				hs.Idx, hopplan.SecondsRemaining(hs, time.Now()))
		})
	}

	errc := make(chan error, 1)
	go func() {
		errc <- status.Listen(ctx, cfg, cfg.StateDir, status.Deps{Store: st, Journal: j})
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-proc.Done():
			return fmt.Errorf("tor exited: %s", proc.State().Error)
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("status endpoint: %w", err)
			}
			errc = nil
		}
	}
}

func audit(ctx context.Context, j journal.Journal, action string, outcomes []model.StepOutcome) {
	if len(outcomes) == 0 {
		return
	}
	journal.RecordBestEffort(ctx, j, journal.NewEntry("torvpnd", action, "", outcomes))
}
