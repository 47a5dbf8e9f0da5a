package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Vision/internal/adapters/media"
	"github.com/dkeye/Vision/internal/adapters/rtc"
	"github.com/dkeye/Vision/internal/client"
	"github.com/dkeye/Vision/internal/client/peer"
	sig "github.com/dkeye/Vision/internal/client/signal"
	"github.com/dkeye/Vision/internal/client/view"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/detect"
	"github.com/dkeye/Vision/internal/domain"
)

type flags struct {
	server      string
	room        string
	video       string
	policy      string
	metricsAddr string
	noTieBreak  bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "vision-client",
		Short: "Headless Vision participant",
		Long: `vision-client joins a room on a Vision signaling server, negotiates a media
session with every other member and runs object detection on the member
currently on display.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			zerolog.SetGlobalLevel(cfg.Level())
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&f.server, "server", "s", "", "signaling websocket URL")
	rootCmd.Flags().StringVarP(&f.room, "room", "r", "", "room to join")
	rootCmd.Flags().StringVar(&f.video, "video", "", "IVF (VP8) file to send; empty receives only")
	rootCmd.Flags().StringVar(&f.policy, "view-policy", "", "first-stays or last-wins")
	rootCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.Flags().BoolVar(&f.noTieBreak, "no-tiebreak", false, "let both sides call each other (last session wins)")
	rootCmd.SilenceUsage = true

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("client stopped")
		cancel()
		os.Exit(1)
	}
}

// apply overrides config values with the flags the user set.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("server") {
		cfg.Client.ServerURL = f.server
	}
	if set("room") {
		cfg.Client.Room = f.room
	}
	if set("video") {
		cfg.Client.VideoSource = f.video
	}
	if set("view-policy") {
		cfg.Client.ViewPolicy = f.policy
	}
	if set("metrics-addr") {
		cfg.Client.MetricsAddr = f.metricsAddr
	}
	if set("no-tiebreak") {
		cfg.Client.GlareTieBreak = !f.noTieBreak
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	policy, err := view.ParsePolicy(cfg.Client.ViewPolicy)
	if err != nil {
		return err
	}
	room, err := domain.ParseRoomID(cfg.Client.Room)
	if err != nil {
		return err
	}

	local, err := media.Acquire(cfg.Client.VideoSource)
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			log.Error().Err(err).Str("source", cfg.Client.VideoSource).Msg("camera unavailable, not joining")
		}
		return err
	}
	go func() {
		if err := local.Play(ctx); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("video source stopped")
		}
	}()

	if cfg.Client.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Client.MetricsAddr)
	}

	ch := sig.NewClient(cfg.Client.ServerURL)
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Close()

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	dialer := rtc.NewDialer(api, rtc.Configuration(cfg.Client.ICEServers), ch)

	v := view.NewCoordinator(policy)
	v.OnChange(func(s *peer.Session) {
		if s == nil {
			log.Info().Str("module", "view").Msg("no active view, showing local preview")
			return
		}
		log.Info().Str("module", "view").Str("remote", string(s.Remote)).Msg("showing remote")
	})

	runner := detect.NewRunner(v, detect.Nop{}, cfg.Client.DetectInterval)
	runner.OnResult(func(res detect.Result) {
		log.Debug().Str("module", "detect").Str("remote", string(res.Frame.Remote)).
			Int("bytes", len(res.Frame.Data)).Int("objects", len(res.Detections)).Msg("frame")
	})
	go func() { _ = runner.Run(ctx) }()

	c := client.New(ch, dialer, local, v, client.Config{Room: room, TieBreak: cfg.Client.GlareTieBreak})
	return c.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server error")
	}
}
