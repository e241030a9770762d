package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mbeoliero/convsync/internal/cache"
	"github.com/mbeoliero/convsync/internal/channel"
	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/metrics"
	"github.com/mbeoliero/convsync/internal/remote"
	"github.com/mbeoliero/convsync/internal/session"
	"github.com/mbeoliero/convsync/internal/store"
	"github.com/mbeoliero/convsync/pkg/constant"
	"github.com/mbeoliero/convsync/pkg/idgen"
	"github.com/mbeoliero/convsync/pkg/jwt"
	"github.com/mbeoliero/convsync/sdk"
)

// tokenRefreshMargin is how close to expiry a configured token is replaced
// by a password login
const tokenRefreshMargin = time.Minute

// NewRunCommand creates the run command
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Log in and keep conversations in sync until interrupted",
		Long: `Log in, connect the channel and keep the conversation list in sync.

SIGUSR1 moves the session to the background and SIGUSR2 brings it back to
the foreground. SIGINT or SIGTERM logs out and exits.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), rootOpts.ConfigPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		return err
	}
	log.CtxInfo(ctx, "config loaded: base_url=%s, ws_url=%s", cfg.Server.BaseURL, cfg.Server.WSURL)

	client, err := sdk.NewClient(cfg.Server.BaseURL,
		sdk.WithToken(cfg.Auth.Token),
		sdk.WithTimeouts(cfg.Server.DialTimeout, cfg.Server.RequestTimeout),
	)
	if err != nil {
		return err
	}

	selfId, err := login(ctx, cfg, client)
	if err != nil {
		log.CtxError(ctx, "login failed: user_id=%s, error=%v", cfg.Auth.UserId, err)
		return err
	}
	log.CtxInfo(ctx, "logged in: user_id=%s", selfId)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(ctx, cfg.Metrics.Addr, reg)

	ids, err := idgen.New(cfg.IDGen.Kind, cfg.IDGen.MachineId)
	if err != nil {
		return err
	}

	snapshots, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ch := channel.New(cfg.Server, cfg.WebSocket, selfId, client.GetToken, channel.WithMetrics(m))
	defer ch.Close()

	sess := session.New(cfg, selfId, ch, remote.NewConversations(client), logPlayer{},
		session.WithMetrics(m),
		session.WithSnapshotStore(snapshots),
		session.WithIDGenerator(idgen.WithPrefix(constant.TempIdPrefix, ids)),
		session.WithREST(remote.NewMessages(client, selfId)),
	)

	sess.Cache().Views().Subscribe(func(v cache.View) {
		log.CtxDebug(ctx, "conversation view: tab=%s, items=%d, state=%s", v.Tab, len(v.Items), v.ConnectionState)
	})
	sess.Cache().Notices().Subscribe(func(n cache.Notice) {
		log.CtxWarn(ctx, "conversation update reverted: conversation_id=%s, op=%s, error=%v", n.ConversationId, n.Op, n.Err)
	})
	sess.Lifecycle().Changes().Subscribe(func(c entity.ConnectionStateChange) {
		log.CtxInfo(ctx, "connection state: from=%s, to=%s, reason=%s", c.From, c.To, c.Reason)
	})
	ch.Presence().Subscribe(func(p channel.Presence) {
		log.CtxDebug(ctx, "presence: user_id=%s, online=%v", p.UserId, p.Online)
	})

	if err := sess.Start(ctx); err != nil {
		if sdk.IsAuthError(err) {
			log.CtxError(ctx, "token rejected, renew auth.token or set auth.password: user_id=%s", selfId)
		}
		log.CtxError(ctx, "session start failed: %v", err)
		sess.Close(ctx)
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for sig := range signals {
		switch sig {
		case syscall.SIGUSR1:
			sess.OnBackground(ctx)
			continue
		case syscall.SIGUSR2:
			sess.OnForeground(ctx)
			continue
		}
		break
	}

	log.CtxInfo(ctx, "shutting down syncd...")
	sess.Close(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.CtxError(ctx, "metrics server shutdown error: %v", err)
		}
	}

	log.CtxInfo(ctx, "syncd stopped")
	return nil
}

// login returns the self id. A configured token is used as long as it is
// fresh; otherwise the password login replaces it.
func login(ctx context.Context, cfg *config.Config, client *sdk.Client) (string, error) {
	if cfg.Auth.Token != "" {
		claims, err := jwt.ParseUnverified(cfg.Auth.Token)
		if err != nil {
			return "", err
		}
		if !claims.ExpiresWithin(time.Now(), tokenRefreshMargin) {
			return claims.UserId, nil
		}
		log.CtxInfo(ctx, "configured token expires soon: user_id=%s", claims.UserId)
		if cfg.Auth.Password == "" {
			return "", claims.CheckFresh(time.Now())
		}
	}

	if cfg.Auth.UserId == "" || cfg.Auth.Password == "" {
		return "", errors.New("auth.user_id and auth.password are required without a token")
	}
	resp, err := client.LoginWithUserId(ctx, cfg.Auth.UserId, cfg.Auth.Password, cfg.Server.PlatformId)
	if err != nil {
		return "", err
	}
	if resp.UserInfo != nil && resp.UserInfo.Id != "" {
		return resp.UserInfo.Id, nil
	}
	claims, err := jwt.ParseUnverified(resp.Token)
	if err != nil {
		return cfg.Auth.UserId, nil
	}
	return claims.UserId, nil
}

func openStore(ctx context.Context, cfg *config.Config) (cache.Snapshotter, func(), error) {
	if !cfg.Redis.Enabled() {
		return store.NewMemory(), func() {}, nil
	}

	s := store.NewRedis(store.NewRedisClient(&cfg.Redis), cfg.Redis.TTL)
	if err := s.CheckConnection(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("snapshot store: %w", err)
	}
	log.CtxInfo(ctx, "snapshot store: redis=%s, key_prefix=%s", cfg.Redis.Addr(), constant.GetRedisKeyPrefix())
	return s, func() { _ = s.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.CtxError(ctx, "metrics server error: %v", err)
		}
	}()
	log.CtxInfo(ctx, "metrics listening on %s", addr)
	return srv
}
