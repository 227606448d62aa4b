package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/config"
	"github.com/callvault/callkit/internal/domain"
	"github.com/callvault/callkit/internal/link"
	"github.com/callvault/callkit/internal/media"
	"github.com/callvault/callkit/internal/mesh"
	"github.com/callvault/callkit/internal/metrics"
	"github.com/callvault/callkit/internal/session"
	sigchan "github.com/callvault/callkit/internal/signal"
	"github.com/callvault/callkit/internal/token"
)

const helpText = `callkit - CallVault peer-to-peer call engine

Usage:
  callkit call <address>     Call the given party (audio)
  callkit video <address>    Call the given party (video)
  callkit listen             Wait for inbound calls and auto-accept
  callkit room <room-id>     Join a group room
  callkit host [room-id] [guest ...]
                             Create and host a group room, inviting guests;
                             a room id is generated when omitted

Environment Variables (required):
  CALLKIT_TOKEN_URL    Call session token endpoint
  CALLKIT_SIGNAL_URL   Signaling websocket URL
  CALLKIT_ADDRESS      Local party address

Optional:
  CALLKIT_STUN_TIMEOUT     Direct-connectivity timeout (default 8s)
  CALLKIT_MAX_RECONNECTS   Reconnect attempt bound (default 3)
  CALLKIT_METRICS_ADDR     Prometheus listen address

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}
	command := os.Args[1]

	w := zerolog.ConsoleWriter{Out: os.Stderr}
	logger := zerolog.New(w).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics listener")
			}
		}()
	}

	local := domain.Party(cfg.Address)

	tokens := token.NewClient(cfg.TokenURL, logger)

	channel := sigchan.NewChannel(cfg.SignalURL, local, logger)
	if err := channel.Dial(ctx); err != nil {
		logger.Fatal().Err(err).Msg("signal connect")
	}
	defer channel.Close()

	engine, err := link.NewEngine(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("webrtc engine")
	}

	sessCfg := session.Config{
		LocalParty:      local,
		Tokens:          tokens,
		Signal:          channel,
		Links:           engine,
		Media:           media.NewSource(logger),
		Logger:          logger,
		Metrics:         m,
		MaxReconnects:   cfg.MaxReconnects,
		StunFailTimeout: cfg.StunFailTimeout,
	}

	manager := session.NewManager(sessCfg, func(s *session.Session, invite domain.Envelope) {
		logger.Info().Str("from", invite.From.String()).Bool("video", invite.Video).Msg("inbound call, accepting")
		s.Accept()
	})

	var room *mesh.Coordinator

	switch command {
	case "call", "video":
		if len(os.Args) < 3 {
			fmt.Print(helpText)
			os.Exit(1)
		}
		s := manager.Call(domain.Party(os.Args[2]), command == "video")
		go watchOutcomes(logger, s)

	case "listen":
		logger.Info().Str("address", cfg.Address).Msg("waiting for calls")

	case "room", "host":
		var roomID string
		switch {
		case len(os.Args) >= 3:
			roomID = os.Args[2]
		case command == "host":
			roomID = domain.NewRoomID()
			logger.Info().Str("room", roomID).Msg("generated room id")
		default:
			fmt.Print(helpText)
			os.Exit(1)
		}
		tok, err := tokens.Acquire(ctx, local, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("room token")
		}
		room = mesh.NewCoordinator(mesh.Config{
			RoomID:  roomID,
			Local:   local,
			Video:   true,
			Token:   tok,
			Links:   engine,
			Signal:  channel,
			Media:   media.NewSource(logger),
			Logger:  logger,
			Metrics: m,
		})
		if command == "host" {
			room.Create()
			if len(os.Args) > 3 {
				for _, guest := range os.Args[3:] {
					room.Invite(domain.Party(guest))
				}
			}
		} else {
			room.Join()
		}

	default:
		fmt.Print(helpText)
		os.Exit(1)
	}

	// route incoming envelopes to their orchestrator
	go func() {
		for env := range channel.Recv() {
			if env.RoomID != "" {
				if room != nil {
					room.Deliver(env)
				}
				continue
			}
			manager.Dispatch(env)
		}
		cancel()
	}()

	<-ctx.Done()

	manager.Shutdown()
	if room != nil {
		room.Leave()
		<-room.Done()
	}
	logger.Info().Msg("done")
}

func watchOutcomes(logger zerolog.Logger, s *session.Session) {
	for o := range s.Outcomes() {
		switch o.Kind {
		case session.OutcomeConnected:
			logger.Info().Str("route", string(o.Route)).Msg("connected")
		case session.OutcomeUpgradeRequired:
			logger.Warn().Msg("direct connectivity failed and relay is not included in your plan")
		case session.OutcomeDegraded:
			logger.Warn().Msg("video unavailable, continuing audio-only")
		case session.OutcomeEnded:
			logger.Info().Str("reason", string(o.Reason)).Bool("retryable", o.Retryable).Msg("call ended")
			return
		}
	}
}
