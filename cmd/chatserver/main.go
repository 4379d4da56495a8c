package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dressly/chat-service/internal/auth"
	"github.com/dressly/chat-service/internal/chat"
	"github.com/dressly/chat-service/internal/gateway"
	"github.com/dressly/chat-service/internal/httpapi"
	"github.com/dressly/chat-service/internal/messaging"
	"github.com/dressly/chat-service/internal/metrics"
	"github.com/dressly/chat-service/internal/moderation"
	"github.com/dressly/chat-service/internal/presence"
	"github.com/dressly/chat-service/internal/ratelimit"
	"github.com/dressly/chat-service/internal/registry"
	"github.com/dressly/chat-service/internal/session"
	"github.com/dressly/chat-service/internal/store"
)

// Config is the full server configuration, loaded from CHAT_* environment
// variables (with .env support for local development).
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`

	RedisAddr  string `envconfig:"REDIS_ADDR" default:""`
	NATSURL    string `envconfig:"NATS_URL" default:""`
	InstanceID string `envconfig:"INSTANCE_ID" default:""`
	AdminToken string `envconfig:"ADMIN_TOKEN" default:""`

	ModelAPIKey  string        `envconfig:"MODEL_API_KEY" default:""`
	ModelName    string        `envconfig:"MODEL_NAME" default:"gemini-pro"`
	ModelBaseURL string        `envconfig:"MODEL_BASE_URL" default:""`
	ModelTimeout time.Duration `envconfig:"MODEL_TIMEOUT" default:"4s"`
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("chat", &cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID, _ = os.Hostname()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "chat-1"
	}

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  instance_id:     %s", cfg.InstanceID)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  model_enabled:   %v", cfg.ModelAPIKey != "")

	// --- PostgreSQL ---
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	// --- Redis presence (optional) ---
	var pres session.Presence
	var presStore *presence.Store
	if cfg.RedisAddr != "" {
		presStore, err = presence.NewStore(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		pres = presStore
	}

	// --- NATS bridge (optional, for multi-instance fan-out) ---
	var bridge *messaging.Bridge
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chat-" + cfg.InstanceID
		bridge, err = messaging.NewBridge(natsConfig, cfg.InstanceID)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Moderation ---
	var primary moderation.Classifier
	if cfg.ModelAPIKey != "" {
		modelConfig := moderation.DefaultModelConfig()
		modelConfig.APIKey = cfg.ModelAPIKey
		modelConfig.Model = cfg.ModelName
		modelConfig.Timeout = cfg.ModelTimeout
		if cfg.ModelBaseURL != "" {
			modelConfig.BaseURL = cfg.ModelBaseURL
		}
		primary = moderation.NewModelClassifier(modelConfig)
	}
	engine := moderation.NewEngine(primary, nil)
	engine.SetTimeout(cfg.ModelTimeout)

	// --- Core wiring ---
	reg := registry.New()
	verifier := auth.NewVerifier(cfg.JWTSecret)

	var svcBridge chat.Bridge
	if bridge != nil {
		svcBridge = bridge
	}
	svc := chat.NewService(st, engine, reg, svcBridge)
	manager := session.NewManager(reg, svc, pres)
	if presStore != nil {
		manager.SetRateLimiter(ratelimit.NewLimiter(presStore.Client()))
	}

	if bridge != nil {
		err = bridge.Start(reg, registry.ConversationRoom, func(data []byte) {
			reg.DisconnectAll(data)
		})
		if err != nil {
			log.Fatalf("failed to start NATS bridge: %v", err)
		}
	}

	// --- Transport ---
	serverConfig := gateway.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
	server := gateway.NewServer(serverConfig, verifier)

	server.SetOnConnect(func(c *gateway.Connection) {
		manager.HandleConnect(c.ID, c.UserID, c, c.CreatedAt)
	})
	server.SetOnMessage(func(c *gateway.Connection, data []byte) {
		manager.HandleMessage(c.ID, c.UserID, data)
	})
	server.SetOnDisconnect(func(connID string) {
		manager.HandleDisconnect(connID)
	})
	if presStore != nil {
		server.SetOnHeartbeat(func(c *gateway.Connection) {
			hbCtx, hbCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer hbCancel()
			if err := presStore.Heartbeat(hbCtx, c.UserID); err != nil {
				log.Printf("presence heartbeat user=%s: %v", c.UserID, err)
			}
		})
	}

	api := httpapi.NewHandler(svc, verifier)
	server.SetExtraRoutes(func(mux *http.ServeMux) {
		api.Register(mux)
		mux.Handle("/metrics", metrics.Handler())

		// Cluster-wide maintenance: drain this instance and relay the
		// notice to peers over the bridge. Enabled only when an admin
		// token is configured.
		if cfg.AdminToken != "" {
			mux.HandleFunc("POST /admin/maintenance", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer "+cfg.AdminToken {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				notice := manager.Maintenance()
				if bridge != nil && notice != nil {
					if err := bridge.PublishMaintenance(notice); err != nil {
						log.Printf("maintenance publish: %v", err)
					}
				}
				w.WriteHeader(http.StatusAccepted)
			})
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		manager.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		if bridge != nil {
			bridge.Close()
		}
		if presStore != nil {
			if err := presStore.Close(); err != nil {
				log.Printf("presence close error: %v", err)
			}
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
