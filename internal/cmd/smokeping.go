package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/smokeping/internal/check"
	"github.com/clambin/smokeping/internal/collector"
	"github.com/clambin/smokeping/internal/configuration"
	"github.com/clambin/smokeping/internal/fping"
	"github.com/clambin/smokeping/internal/scheduler"
	"github.com/clambin/smokeping/internal/sender"
	"github.com/clambin/smokeping/internal/server"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Cmd = cobra.Command{
		Use:   "smokeping [flags] [ <host> ... ]",
		Short: "Measures latency & packet loss to a set of hosts with fping and exports them as Prometheus metrics",
		PreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetTextLogger(cmd, viper.GetBool("debug"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			l := charmer.GetLogger(cmd)
			if v.GetString("log-file") != "" || v.GetBool("log-json") {
				l = newLogger(v, os.Stderr)
			}
			return run(cmd.Context(), cmd, args, v, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, l)
		},
	}
)

func run(ctx context.Context, cmd *cobra.Command, args []string, v *viper.Viper, r prometheus.Registerer, g prometheus.Gatherer, l *slog.Logger) error {
	cfg, err := configuration.Load(v, args)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	l.Info("smokeping started", "targets", cfg.Targets, "version", cmd.Version)

	prober := fping.New(v.GetString("fping-path"), l.With("component", "fping"))

	if v.GetBool("once") {
		return runOnce(ctx, cmd.OutOrStdout(), cfg, prober, l)
	}

	s := sender.NewPrometheus(l.With("component", "sender"))
	c, err := check.New(cfg, s, prober, l.With("component", "check"))
	if err != nil {
		return err
	}
	for _, m := range []prometheus.Collector{s, collector.Collector{Source: c, Logger: l.With("component", "collector")}} {
		if err = r.Register(m); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	sched := scheduler.Scheduler{
		Runner:   c,
		Interval: cfg.CheckInterval,
		Logger:   l.With("component", "scheduler"),
	}
	srv := server.Server{
		Gatherer: g,
		Events:   s,
		Targets:  c,
		Health:   &sched,
		Logger:   l.With("component", "server"),
	}
	httpServer := http.Server{
		Addr:              v.GetString("addr"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sched.Run(ctx) })
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	defer l.Info("smokeping stopped")
	return group.Wait()
}

// runOnce performs a single invocation of the check and prints a summary for each target.
func runOnce(ctx context.Context, w io.Writer, cfg configuration.Configuration, prober check.Prober, l *slog.Logger) error {
	var r sender.Recorder
	c, err := check.New(cfg, &r, prober, l.With("component", "check"))
	if err != nil {
		return err
	}
	if err = c.Run(ctx); err != nil {
		return err
	}
	for _, target := range c.Targets() {
		tag := "dst_addr:" + target.Address
		var sum float64
		var count int
		for _, m := range r.Histograms() {
			if m.Name == c.Name()+".rtt" && slices.Contains(m.Tags, tag) {
				sum += m.Value
				count++
			}
		}
		var avg float64
		if count > 0 {
			avg = sum / float64(count)
		}
		_, _ = fmt.Fprintf(w, "%s total=%.0f loss=%.0f rtt_avg=%.3fms\n",
			target.Address,
			r.Total(c.Name()+".total_cnt", tag),
			r.Total(c.Name()+".loss_cnt", tag),
			avg,
		)
	}
	for _, event := range r.Events() {
		_, _ = fmt.Fprintf(w, "event: %s: %s\n", event.Title, event.Text)
	}
	return nil
}

// newLogger creates the logger for the log-file and log-json options. Otherwise, the command uses charmer's text logger.
func newLogger(v *viper.Viper, w io.Writer) *slog.Logger {
	if filename := v.GetString("log-file"); filename != "" {
		w = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	opts := slog.HandlerOptions{Level: slog.LevelInfo}
	if v.GetBool("debug") {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(w, &opts)
	if v.GetBool("log-json") {
		h = slog.NewJSONHandler(w, &opts)
	}
	return slog.New(h)
}

var arguments = charmer.Arguments{
	"config":     {Default: "", Help: "Configuration file"},
	"env-file":   {Default: "", Help: "Load environment variables from this file"},
	"debug":      {Default: false, Help: "Log debug messages"},
	"log-json":   {Default: false, Help: "Log in JSON format"},
	"log-file":   {Default: "", Help: "Log to this file (rotated) instead of stderr"},
	"addr":       {Default: ":9120", Help: "Prometheus listener address"},
	"fping-path": {Default: fping.DefaultBinary, Help: "fping binary"},
	"once":       {Default: false, Help: "Run the check once, print the results and exit"},
}

func init() {
	cobra.OnInitialize(initConfig)
	if err := charmer.SetPersistentFlags(&Cmd, viper.GetViper(), arguments); err != nil {
		slog.Warn("failed to set flags", "err", err)
	}
}

func initConfig() {
	if envFile := viper.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("failed to read env file", "err", err)
		}
	}

	if configFilename := viper.GetString("config"); configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/smokeping/")
		viper.AddConfigPath("$HOME/.smokeping")
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("SMOKEPING")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Warn("failed to read config file", "error", err)
	}
}
