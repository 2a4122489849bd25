// Command dshostd is the dedicated-server host agent: it accepts
// create_match/add_user requests from a game backend, spawns and
// supervises the corresponding dedicated-server child processes, and
// republishes this host's state to a registry of record.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iFunFactory/dshostd/internal/callback"
	"github.com/iFunFactory/dshostd/internal/config"
	"github.com/iFunFactory/dshostd/internal/httpapi"
	"github.com/iFunFactory/dshostd/internal/httpapi/middleware"
	"github.com/iFunFactory/dshostd/internal/match"
	"github.com/iFunFactory/dshostd/internal/publisher"
	"github.com/iFunFactory/dshostd/internal/registryclient"
	"github.com/iFunFactory/dshostd/internal/supervisor"
	"github.com/iFunFactory/dshostd/internal/telemetry"
)

func main() {
	fs := pflag.NewFlagSet("dshostd", pflag.ExitOnError)
	fs.String("config", "", "path to config file (optional, overrides search paths)")
	fs.Int("rest-port", 0, "listen port for the agent's RESTful API")
	fs.String("game-ip", "", "IP address the game service binds to")
	fs.String("engine", "", "dedicated server engine: ue4 or unity")
	fs.String("binary-path", "", "path to the dedicated server binary")
	fs.Bool("use-beacon", false, "allocate a UE4 beacon port alongside each game port")
	fs.Duration("heartbeat-interval", 0, "heartbeat interval")
	fs.Int("concurrent-servers", 0, "maximum number of concurrent dedicated servers on this host")
	fs.Duration("max-ds-uptime-seconds", 0, "maximum seconds each dedicated server may run; 0 for no limit")
	fs.String("registry-backend", "", "registry client backend: kv or http")
	fs.Int("metrics-port", 0, "listen port for the Prometheus /metrics endpoint (0 disables a separate listener)")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	if p, _ := fs.GetString("config"); p != "" {
		v.SetConfigFile(p)
	}
	_ = v.BindPFlag("server.rest_port", fs.Lookup("rest-port"))
	_ = v.BindPFlag("server.game_ip", fs.Lookup("game-ip"))
	_ = v.BindPFlag("match.engine", fs.Lookup("engine"))
	_ = v.BindPFlag("match.binary_path", fs.Lookup("binary-path"))
	_ = v.BindPFlag("match.use_beacon", fs.Lookup("use-beacon"))
	_ = v.BindPFlag("match.heartbeat_interval", fs.Lookup("heartbeat-interval"))
	_ = v.BindPFlag("match.concurrent_servers", fs.Lookup("concurrent-servers"))
	_ = v.BindPFlag("match.max_ds_uptime_seconds", fs.Lookup("max-ds-uptime-seconds"))
	_ = v.BindPFlag("registry.backend", fs.Lookup("registry-backend"))
	_ = v.BindPFlag("server.metrics_port", fs.Lookup("metrics-port"))

	cfg, err := config.Load(v)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := telemetry.NewLogger("info", true)
	slog.SetDefault(logger)
	logger.Info("starting dshostd",
		"engine", cfg.Match.Engine, "rest_port", cfg.Server.RestPort,
		"concurrent_servers", cfg.Match.ConcurrentServers)

	regClient, err := buildRegistryClient(cfg)
	if err != nil {
		log.Fatalf("build registry client: %v", err)
	}

	pub := publisher.New(publisher.Config{
		HostID:        hostID(cfg),
		PublicIP:      cfg.Server.PublicIP,
		ServerVersion: "",
		InstanceID:    cfg.Server.InstanceID,
		Region:        cfg.Server.Region,
		MaxMatches:    cfg.Match.ConcurrentServers,
	}, regClient, logger)

	builder := buildArgvBuilder(cfg)
	lifecycle := &lifecycleBridge{}
	sup := supervisor.New(cfg.Match.BinaryPath, builder, lifecycle, cfg.Server.Verbose, logger)

	engine := match.NewEngine(match.EngineConfig{
		HeartbeatInterval: cfg.Match.HeartbeatInterval,
		DefaultMaxUptime:  cfg.Match.MaxDSUptimeSeconds,
		UseBeacon:         cfg.Match.UseBeacon,
		RestPort:          cfg.Server.RestPort,
		MaxActiveServers:  cfg.Match.ConcurrentServers,
	}, match.PortPoolConfig{
		BasePort:  cfg.Match.PortPoolBase,
		Size:      cfg.Match.PortPoolSize,
		UseBeacon: cfg.Match.UseBeacon,
	}, sup, pub, logger)
	lifecycle.engine = engine

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cbClient := callback.New("", 5*time.Second, logger)
	cbClient.Auth = regClient // reuse the registry backend's credential on engine callbacks
	resolver := callback.NewFallbackResolver(engine.Registry())

	var bearerAuth middleware.TokenValidator
	// RSA verification is wired in internal/httpapi/middleware/jwt.go when
	// cfg.Auth.VerificationPubKey names a loadable PEM; left nil otherwise,
	// matching the original's "no token_endpoint configured" bypass.
	if p := cfg.Auth.VerificationPubKey; p != "" {
		if pemBytes, err := os.ReadFile(p); err != nil {
			logger.Warn("read bearer verification key failed, bearer auth disabled", "path", p, "err", err)
		} else if pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err != nil {
			logger.Warn("parse bearer verification key failed, bearer auth disabled", "path", p, "err", err)
		} else {
			bearerAuth = middleware.NewRSAJWTValidator(pub)
		}
	}

	router := httpapi.NewRouter(httpapi.Options{
		Engine:     engine,
		Callback:   cbClient,
		Resolver:   resolver,
		Logger:     logger,
		BearerAuth: bearerAuth,
		PublicIP:   cfg.Server.PublicIP,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.RestPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	// The listener is bound (and serving) before the version probe runs:
	// the probe child reports back to this same host's POST
	// /server/version/, so the socket must already be accepting
	// connections or CheckVersion always times out.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Fatalf("listen on %s: %v", srv.Addr, err)
	}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics listener stopped", "addr", metricsAddr, "err", err)
			}
		}()
	}

	if cfg.Match.BinaryPath != "" {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		version, err := engine.CheckVersion(probeCtx)
		cancel()
		if err != nil {
			logger.Warn("version probe failed, continuing without a confirmed binary version", "err", err)
		} else {
			logger.Info("dedicated server binary version confirmed", "version", version)
		}
	}

	go engine.RunHeartbeatMonitor(ctx)
	go pub.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown error: %v", err)
	}
	logger.Info("stopped gracefully")
}

// lifecycleBridge defers to engine for supervisor.Lifecycle, since the
// engine itself isn't constructed yet at the point the supervisor needs
// a Lifecycle value.
type lifecycleBridge struct {
	engine *match.Engine
}

func (b *lifecycleBridge) NotifyFinished(matchID string) {
	b.engine.NotifyFinished(matchID)
}

func buildArgvBuilder(cfg *config.Config) supervisor.ArgvBuilder {
	if cfg.Match.Engine == "unity" {
		return supervisor.UnityBuilder{EditorMode: cfg.Match.RunAsUnityEditor}
	}
	return supervisor.UE4Builder{}
}

func buildRegistryClient(cfg *config.Config) (registryclient.Client, error) {
	switch cfg.Registry.Backend {
	case "http":
		return registryclient.NewHTTPClient(registryclient.HTTPConfig{
			BaseURL:      cfg.Registry.HTTPBaseURL,
			TokenURL:     cfg.Registry.OAuthTokenURL,
			ClientID:     cfg.Registry.OAuthClientID,
			ClientSecret: cfg.Registry.OAuthClientSecret,
		}), nil
	default:
		return registryclient.NewKVClient(registryclient.KVConfig{
			Addr:     cfg.Registry.RedisAddr,
			Password: cfg.Registry.RedisPassword,
			DB:       cfg.Registry.RedisDB,
		})
	}
}

func hostID(cfg *config.Config) string {
	if cfg.Server.InstanceID != "" {
		return cfg.Server.InstanceID
	}
	return uuid.NewString()
}
