// Command bridge-gateway is the HTTP bootstrap for the event-bus bridge:
// it wires a bus backend, an auth authority, and the bridge core behind
// a client socket endpoint, an admin stats stream, and health/metrics
// routes (4.Q).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ocx/bridge/internal/adminws"
	"github.com/ocx/bridge/internal/authority"
	"github.com/ocx/bridge/internal/authority/busauthority"
	"github.com/ocx/bridge/internal/authority/grpcauthority"
	"github.com/ocx/bridge/internal/bridge"
	"github.com/ocx/bridge/internal/bus"
	"github.com/ocx/bridge/internal/bus/gcpbus"
	"github.com/ocx/bridge/internal/bus/localbus"
	"github.com/ocx/bridge/internal/bus/redisbus"
	"github.com/ocx/bridge/internal/config"
	"github.com/ocx/bridge/internal/identity"
	"github.com/ocx/bridge/internal/metrics"
	"github.com/ocx/bridge/internal/transport"
	"github.com/ocx/bridge/internal/transport/sockio"
	"github.com/ocx/bridge/internal/transport/wsocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("bridge-gateway: no .env file found, using process environment")
	}

	cfg := config.Get()
	port := cfg.GetPort()

	eventBus, err := buildBus(cfg.Bus)
	if err != nil {
		log.Fatalf("bridge-gateway: failed to build event bus: %v", err)
	}
	defer eventBus.Close()
	slog.Info("bridge-gateway: event bus ready", "backend", cfg.Bus.Backend)

	authorityBackend, err := buildAuthority(cfg.Authority, eventBus)
	if err != nil {
		log.Fatalf("bridge-gateway: failed to build auth authority: %v", err)
	}
	slog.Info("bridge-gateway: auth authority ready", "backend", cfg.Authority.Backend)

	// The Auth Coordinator (4.D) always consults cfg.Bridge.AuthAddress
	// over the bus itself. This subscription is what answers it, backed
	// by whichever authority.Authority implementation was configured.
	eventBus.Subscribe(cfg.Bridge.AuthAddress, func(ctx context.Context, msg bus.Message) {
		if msg.ReplyAddress == "" {
			return
		}
		frame, _ := msg.Body.(map[string]any)
		status, meta, err := authorityBackend.Authorise(ctx, frame)
		if err != nil {
			slog.Warn("bridge-gateway: authority backend failed", "error", err)
			status = "denied"
		}
		reply := map[string]any{"status": status}
		for k, v := range meta {
			reply[k] = v
		}
		if pubErr := eventBus.Publish(ctx, bus.Message{Address: msg.ReplyAddress, Body: reply}); pubErr != nil {
			slog.Warn("bridge-gateway: failed to publish auth reply", "error", pubErr)
		}
	})

	promMetrics := metrics.New()

	br := bridge.New(buildBridgeConfig(cfg.Bridge), eventBus).WithMetrics(promMetrics)
	defer br.Close()

	var verifier *identity.Verifier
	if cfg.Identity.Enabled {
		v, err := identity.NewVerifier(context.Background(), cfg.Identity.SocketPath, cfg.Identity.TrustDomain)
		if err != nil {
			slog.Warn("bridge-gateway: SPIFFE verifier unavailable, continuing without pre-authorisation", "error", err)
		} else {
			verifier = v
			defer verifier.Close()
			slog.Info("bridge-gateway: SPIFFE verifier wired", "trust_domain", cfg.Identity.TrustDomain)
		}
	}
	streamer := adminws.NewStreamer(bridgeStatsAdapter{br}, 2*time.Second)

	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, br.SessionCount())
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/admin/stream", streamer.HandleWebSocket)

	switch cfg.Bridge.Transport {
	case "sockio":
		sockioServer, err := sockio.NewServer(func(sock *sockio.Socket) {
			connectSession(br, sock)
		})
		if err != nil {
			log.Fatalf("bridge-gateway: failed to build socket.io server: %v", err)
		}
		router.PathPrefix("/bridge").Handler(sockioServer.Handler())
		go func() {
			if err := sockioServer.Serve(context.Background()); err != nil {
				slog.Warn("bridge-gateway: socket.io server stopped", "error", err)
			}
		}()
	default:
		router.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
			sock, err := wsocket.Upgrade(w, r)
			if err != nil {
				slog.Warn("bridge-gateway: websocket upgrade failed", "error", err)
				return
			}
			preAuthoriseFromPeerCert(br, verifier, sock, r)
			connectSession(br, sock)
		})
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	if verifier != nil {
		server.TLSConfig = verifier.GetTLSConfig()
	}

	stopStream := make(chan struct{})
	group, groupCtx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		streamer.Run(stopStream)
		return nil
	})

	group.Go(func() error {
		slog.Info("bridge-gateway starting", "port", port, "transport", cfg.Bridge.Transport, "mtls", verifier != nil)
		var err error
		if verifier != nil {
			// Certificates come from server.TLSConfig's GetCertificate,
			// sourced live from the SPIRE workload API — no cert/key files.
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("bridge-gateway: shutdown signal received")
	case <-groupCtx.Done():
		slog.Error("bridge-gateway: a component stopped unexpectedly", "error", groupCtx.Err())
	}

	close(stopStream)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("bridge-gateway: graceful shutdown failed", "error", err)
	}

	if err := group.Wait(); err != nil {
		slog.Error("bridge-gateway: component error during shutdown", "error", err)
	}

	slog.Info("bridge-gateway: stopped")
}

// connectSession creates a Bridge Session (4.H) for sock and runs it in
// its own goroutine.
func connectSession(br *bridge.Bridge, sock transport.Socket) {
	sess := br.Connect(sock)
	go sess.Run(context.Background())
}

// preAuthoriseFromPeerCert seeds the Auth Cache for sock directly from a
// verified mTLS client certificate, skipping the bus round trip the Auth
// Coordinator would otherwise need (4.M). A no-op unless SPIFFE is
// configured and the connection actually negotiated a peer certificate.
func preAuthoriseFromPeerCert(br *bridge.Bridge, verifier *identity.Verifier, sock transport.Socket, r *http.Request) {
	if verifier == nil || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return
	}
	sessionID, metadata, err := verifier.VerifyPeer(r.TLS.PeerCertificates[0])
	if err != nil {
		slog.Warn("bridge-gateway: peer certificate failed SPIFFE verification", "error", err)
		return
	}
	br.PreAuthorise(sessionID, sock, metadata)
}

func buildBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := redisbus.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("dial redis at %s: %w", cfg.RedisAddr, err)
		}
		return redisbus.New(client, cfg.TopicPrefix), nil
	case "gcp":
		client, err := pubsub.NewClient(context.Background(), cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client for project %s: %w", cfg.GCPProjectID, err)
		}
		return gcpbus.New(client, cfg.TopicPrefix), nil
	default:
		return localbus.New(), nil
	}
}

func buildAuthority(cfg config.AuthorityConfig, b bus.Bus) (authority.Authority, error) {
	switch cfg.Backend {
	case "grpc":
		return grpcauthority.New(cfg.GRPCAddr)
	default:
		return busauthority.New(b, cfg.BusUpstreamAddress), nil
	}
}

func buildBridgeConfig(cfg config.BridgeConfig) bridge.Config {
	authTimeout := time.Duration(cfg.AuthTimeoutMs) * time.Millisecond
	bridgeCfg := bridge.Config{
		AuthTimeout:  &authTimeout,
		AuthAddress:  cfg.AuthAddress,
		ReplyTimeout: time.Duration(cfg.ReplyTimeoutSec) * time.Second,
	}

	if cfg.PermissionsPath == "" {
		slog.Warn("bridge-gateway: no permissions_path configured, every inbound and outbound frame will be denied")
		return bridgeCfg
	}

	pf, err := config.LoadPermissions(cfg.PermissionsPath)
	if err != nil {
		slog.Warn("bridge-gateway: failed to load permissions file, every frame will be denied", "path", cfg.PermissionsPath, "error", err)
		return bridgeCfg
	}

	bridgeCfg.InboundPermitted = toPermissionMatches(pf.InboundPermitted)
	bridgeCfg.OutboundPermitted = toPermissionMatches(pf.OutboundPermitted)
	return bridgeCfg
}

func toPermissionMatches(entries []config.PermissionEntry) []bridge.PermissionMatch {
	matches := make([]bridge.PermissionMatch, len(entries))
	for i, e := range entries {
		matches[i] = bridge.PermissionMatch{
			Address:      e.Address,
			AddressRegex: e.AddressRegex,
			Match:        e.Match,
			RequiresAuth: e.RequiresAuth,
		}
	}
	return matches
}

type bridgeStatsAdapter struct {
	br *bridge.Bridge
}

func (a bridgeStatsAdapter) Snapshot() adminws.StatsEvent {
	return adminws.StatsEvent{
		Timestamp:         time.Now(),
		SessionsActive:    a.br.SessionCount(),
		AuthCacheSize:     a.br.AuthCacheSize(),
		ReplyRegistrySize: a.br.ReplyRegistrySize(),
	}
}
