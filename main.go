package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/room4-2/duplexvoice/audio"
	"github.com/room4-2/duplexvoice/config"
	"github.com/room4-2/duplexvoice/events"
	"github.com/room4-2/duplexvoice/messages"
	"github.com/room4-2/duplexvoice/metrics"
	"github.com/room4-2/duplexvoice/server"
	"github.com/room4-2/duplexvoice/session"
)

// CLI flags; each overrides the loaded config only when set
var (
	cfgFile     string
	serverURL   string
	voice       string
	textPrompt  string
	promptFile  string
	duration    float64
	metricsAddr string
	verbose     bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "duplexvoice",
		Short: "Full-duplex voice client for PersonaPlex servers",
		Long: `duplexvoice streams your microphone to a PersonaPlex voice server and plays
the agent's audio back as it arrives. Both directions run at the same time.

Recording and playback go through sox, which must be on your PATH.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file (default: $CONFIG_FILE)")
	rootCmd.Flags().StringVar(&serverURL, "server-url", "", "WebSocket URL of the voice server")
	rootCmd.Flags().StringVar(&voice, "voice", "", "voice preset, e.g. NATF2")
	rootCmd.Flags().StringVar(&textPrompt, "text-prompt", "", "persona prompt sent with the session config")
	rootCmd.Flags().StringVar(&promptFile, "prompt-file", "", "read the persona prompt from a file")
	rootCmd.Flags().Float64Var(&duration, "duration", 0, "stop after this many seconds (0 runs until Ctrl+C)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /health, /status and /metrics on this address")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	return rootCmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.ResolvePrompt(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	printBanner(cmd.OutOrStdout(), cfg)
	if !messages.IsKnownVoice(cfg.Voice) {
		logger.Warn("Unknown voice preset, sending it anyway", slog.String("voice", cfg.Voice))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	observers := []events.Observer{events.NewLogObserver(logger)}
	if cfg.MQTTBroker != "" {
		pub := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, logger)
		defer pub.Close()
		observers = append(observers, pub)
	}

	var registry *session.RedisRegistry
	if cfg.RedisURL != "" {
		registry = session.NewRedisRegistry(cfg.RedisURL, cfg.RedisPassword, cfg.SessionTTL, logger)
		if registry != nil {
			defer registry.Close()
		}
	}

	playback, err := audio.NewSoxPlayback()
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	opts := session.Options{
		URL:           cfg.ServerURL,
		Config:        cfg.SessionConfig(),
		Capture:       audio.NewSoxCapture(),
		Playback:      playback,
		Observer:      events.Multi(observers...),
		Transport:     cfg.TransportOptions(),
		QueueCapacity: cfg.QueueCapacity,
		Overflow:      cfg.Overflow(),
		PollInterval:  cfg.PollInterval,
		MaxDuration:   cfg.Duration,
		Logger:        logger,
		Metrics:       m,
	}
	if registry != nil {
		opts.Registry = registry
	}
	ctrl := session.New(opts)

	if cfg.MetricsAddr != "" {
		status := server.NewStatus(cfg.MetricsAddr, reg, logger)
		status.SetSource(ctrl)
		if registry != nil {
			status.SetRegistry(registry)
		}
		go func() {
			if err := status.Start(); err != nil {
				logger.Error("Status server error", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = status.Shutdown(shutdownCtx)
		}()
	}

	if err := ctrl.Start(ctx); err != nil {
		res, _ := ctrl.Result()
		<-ctrl.EventsDone()
		printResult(cmd.OutOrStdout(), res)
		return err
	}
	logger.Info("🎤 Streaming, press Ctrl+C to stop")

	<-ctrl.Done()
	<-ctrl.EventsDone()
	res, _ := ctrl.Result()
	printResult(cmd.OutOrStdout(), res)

	if res.Status == session.StatusError {
		return errors.New(res.Error)
	}
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("server-url") {
		cfg.ServerURL = serverURL
	}
	if flags.Changed("voice") {
		cfg.Voice = voice
	}
	if flags.Changed("text-prompt") {
		cfg.TextPrompt = textPrompt
	}
	if flags.Changed("prompt-file") {
		cfg.PromptFile = promptFile
	}
	if flags.Changed("duration") {
		cfg.Duration = time.Duration(duration * float64(time.Second))
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
}

func printBanner(w io.Writer, cfg *config.Config) {
	line := strings.Repeat("=", 50)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "  duplexvoice")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  Server: %s\n", cfg.ServerURL)
	fmt.Fprintf(w, "  Voice:  %s\n", messages.VoicePromptFile(cfg.Voice))
	if cfg.TextPrompt != "" {
		fmt.Fprintf(w, "  Prompt: %s\n", shorten(cfg.TextPrompt, 47))
	}
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "  Limit:  %s\n", cfg.Duration)
	}
	fmt.Fprintln(w, line)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func printResult(w io.Writer, res session.Result) {
	data, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "status: %s\n", res.Status)
		return
	}
	fmt.Fprintln(w, string(data))
}
