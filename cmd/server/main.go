// server is the backend process: it consumes the edge's event queues, fans
// events out to SSE subscribers and WebSocket video viewers, caches the
// latest pipeline state in Redis, keeps event history in Postgres, stores
// recordings in MinIO, and exposes the thin REST control endpoints that
// publish config messages toward the edge.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/guardcar/internal/api"
	"github.com/technosupport/guardcar/internal/data"
	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/live"
	"github.com/technosupport/guardcar/internal/vault"
)

// fileConfig mirrors the env keys for deployments that prefer a YAML file.
// Env wins when both are set.
type fileConfig struct {
	NATSURL     string `yaml:"nats_url"`
	RedisAddr   string `yaml:"redis_addr"`
	Port        int    `yaml:"port"`
	EmbedNATS   bool   `yaml:"embed_nats"`
	NATSStore   string `yaml:"nats_store_dir"`
	NotifyFloor int    `yaml:"notify_floor"`
	WSMaxWidth  int    `yaml:"ws_max_width"`

	DB struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"db"`

	Minio struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
}

func main() {
	var fc fileConfig
	if path := getEnv("CONFIG_FILE", "config/server.yaml"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(raw, &fc); err != nil {
				log.Fatalf("[Server] parse %s: %v", path, err)
			}
			log.Printf("[Server] loaded %s", path)
		}
	}

	natsURL := getEnv("NATS_URL", fc.NATSURL)
	redisAddr := getEnv("REDIS_ADDR", firstOf(fc.RedisAddr, "localhost:6379"))
	port := getEnvInt("PORT", firstOfInt(fc.Port, 8081))
	embedNATS := getEnv("EMBED_NATS", "") == "true" || fc.EmbedNATS
	notifyFloor := getEnvInt("NOTIFY_FLOOR", firstOfInt(fc.NotifyFloor, 50))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Optional embedded broker for self-contained vehicle deployments.
	if embedNATS {
		storeDir := getEnv("NATS_STORE_DIR", firstOf(fc.NATSStore, "nats-store"))
		ns, err := natsserver.NewServer(&natsserver.Options{
			JetStream: true,
			StoreDir:  storeDir,
			Port:      4222,
		})
		if err != nil {
			log.Fatalf("[Server] embedded NATS: %v", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			log.Fatalf("[Server] embedded NATS did not come up")
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
		log.Printf("[Server] embedded NATS on %s (store %s)", natsURL, storeDir)
	}
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	// Redis latest-state cache.
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	state := live.NewStateCache(rdb)

	// Optional Postgres history.
	var history data.EventStore
	if host := getEnv("DB_HOST", fc.DB.Host); host != "" {
		dbPort := getEnv("DB_PORT", firstOf(fc.DB.Port, "5432"))
		connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			getEnv("DB_USER", fc.DB.User), getEnv("DB_PASSWORD", fc.DB.Password),
			host, dbPort, getEnv("DB_NAME", fc.DB.Name))
		db, err := sql.Open("postgres", connStr)
		if err != nil {
			log.Fatalf("[Server] DB open: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("[Server] DB ping: %v", err)
		}
		defer db.Close()
		history = data.EventModel{DB: db, NotifyFloor: float64(notifyFloor)}
		log.Printf("[Server] event history on %s:%s", host, dbPort)
	} else {
		log.Printf("[Server] DB_HOST unset, event history disabled")
	}

	// Optional MinIO recordings vault.
	var recordings *vault.Vault
	if endpoint := getEnv("MINIO_ENDPOINT", fc.Minio.Endpoint); endpoint != "" {
		v, err := vault.New(ctx, vault.Config{
			Endpoint:  endpoint,
			AccessKey: getEnv("MINIO_ACCESS_KEY", fc.Minio.AccessKey),
			SecretKey: getEnv("MINIO_SECRET_KEY", fc.Minio.SecretKey),
			Bucket:    getEnv("MINIO_BUCKET", firstOf(fc.Minio.Bucket, "recordings")),
			UseSSL:    getEnv("MINIO_USE_SSL", "") == "true" || fc.Minio.UseSSL,
		})
		if err != nil {
			log.Fatalf("[Server] recordings vault: %v", err)
		}
		recordings = v
		log.Printf("[Server] recordings vault on %s", endpoint)
	} else {
		log.Printf("[Server] MINIO_ENDPOINT unset, recordings vault disabled")
	}

	// Event fabric: connect and bridge the four edge queues into the hubs.
	bus := events.NewManager("guardcar-backend", natsURL, events.EdgeQueues(0, 0, 0))
	if err := bus.Connect(ctx); err != nil {
		log.Fatalf("[Server] broker: %v", err)
	}
	defer bus.Close()

	sseHub := live.NewSSEHub()
	frameHub := live.NewFrameHub()
	bridge := live.NewBridge(sseHub, frameHub, state, history)
	if err := bridge.Attach(bus); err != nil {
		log.Fatalf("[Server] bridge: %v", err)
	}

	handler := api.NewRouter(api.Deps{
		Bus:     bus,
		SSE:     sseHub,
		Frames:  frameHub,
		State:   state,
		History: history,
		Vault:   recordings,

		StreamMaxWidth: getEnvInt("WS_MAX_WIDTH", fc.WSMaxWidth),
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	go func() {
		log.Printf("[Server] listening on :%d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] HTTP: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Server] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] shutdown: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstOf(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func firstOfInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
