package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"rinocal/internal/config"
	"rinocal/internal/fuzzy"
	"rinocal/internal/ics"
	appLog "rinocal/internal/log"
	"rinocal/internal/registry"
	"rinocal/internal/snapshot"
	"rinocal/internal/source"
	"rinocal/internal/status"
	"rinocal/internal/updater"
	"rinocal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dryRun     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Setup(appLog.ParseLevel(conf.LogLevel), conf.LogFormat)
	defer appLog.Sync()
	appLog.Info("rinocal starting", "version", status.Version)

	if err := run(flags, conf); err != nil {
		appLog.Error("rinocal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("rinocal exiting")
}

func run(flags flagConfig, conf *config.Config) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}
	since, err := conf.SinceTime(loc)
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"event_source", conf.EventSource,
		"patients_source", conf.Patients.Source,
		"seed_mode", conf.Patients.Mode,
		"update_cron", conf.UpdateCron,
		"ics_count", len(conf.ICS),
		"status_peers", len(conf.StatusPeers),
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events, writer, err := buildEventSource(ctx, conf, loc)
	if err != nil {
		return err
	}

	builder := registry.NewBuilder(loc)
	builder.DefaultHospital = conf.DefaultHospital
	builder.Mode = registry.SeedMode(conf.Patients.Mode)
	svc := &registry.Service{Builder: builder, Events: events, Since: since}
	switch {
	case conf.Patients.Source == config.PatientSourceFile:
		svc.Patients = source.SeedFile{Path: conf.Patients.File}
	case builder.Mode == registry.SeedSubstitute:
		svc.Patients = source.NewPanel(conf.Patients.PanelURL)
	}

	job := &updater.Job{
		Events:     events,
		Writer:     writer,
		Patients:   buildPatientSource(conf, svc),
		SourceName: conf.Patients.Source,
		Matcher:    fuzzy.Matcher{},
		Location:   loc,
		Since:      since,
		DryRun:     flags.dryRun,
	}

	if flags.once {
		report, err := job.Run(ctx)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.UpdateCron, func() {
		runCtx, runCancel := context.WithTimeout(ctx, 10*time.Minute)
		defer runCancel()
		if _, err := job.Run(runCtx); err != nil {
			appLog.Error("scheduled update failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid update_cron %q: %w", conf.UpdateCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	peers := make([]status.Peer, 0, len(conf.StatusPeers))
	for _, p := range conf.StatusPeers {
		peers = append(peers, status.Peer{Name: p.Name, URL: p.URL})
	}
	srv := web.NewServer(conf, loc, web.Deps{
		Registry: svc,
		Updater:  job,
		Prober:   status.NewProber(peers),
	})

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildEventSource returns the live source chained with the local snapshot
// store, and the writer used to patch descriptions (nil for read-only feeds).
func buildEventSource(ctx context.Context, conf *config.Config, loc *time.Location) (*source.Fallback, source.EventWriter, error) {
	store := &snapshot.Store{
		Dir:         conf.Snapshot.Dir,
		ArchiveFile: conf.Snapshot.ArchiveFile,
		Location:    loc,
	}
	local := source.Named{Name: config.EventSourceSnapshot, Source: store}

	switch conf.EventSource {
	case config.EventSourceGoogle:
		g, err := source.NewGoogle(ctx, conf.Calendar.ID, conf.Calendar.CredentialsFile, loc)
		if err != nil {
			return nil, nil, err
		}
		live := source.Named{Name: config.EventSourceGoogle, Source: &snapshot.Recorder{Source: g, Store: store}}
		return &source.Fallback{Sources: []source.Named{live, local}}, g, nil

	case config.EventSourceICS:
		feeds := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			if c.URL != "" {
				feeds = append(feeds, ics.Source{ID: c.ID, URL: c.URL})
			}
		}
		feed := &ics.Feed{Fetcher: ics.NewFetcher(conf.ICSCacheDir), Sources: feeds, Location: loc}
		live := source.Named{Name: config.EventSourceICS, Source: &snapshot.Recorder{Source: feed, Store: store}}
		appLog.Warn("ics feeds are read-only; descriptions will not be written")
		return &source.Fallback{Sources: []source.Named{live, local}}, nil, nil

	default:
		return &source.Fallback{Sources: []source.Named{local}}, nil, nil
	}
}

func buildPatientSource(conf *config.Config, svc *registry.Service) registry.PatientSource {
	switch conf.Patients.Source {
	case config.PatientSourceFile:
		return source.SeedFile{Path: conf.Patients.File}
	case config.PatientSourceLocal:
		return source.RegistryPatients{Service: svc}
	default:
		return source.NewPanel(conf.Patients.PanelURL)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/rinocal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run the description update once, print the report and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Compute notes without writing them to the calendar")

	flag.Parse()

	return cfg
}
