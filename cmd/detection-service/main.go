// detection-service is the edge process: it pumps frames off the camera's
// TLS video socket, routes each through the local or remote detector, tracks
// and scores the scene, drives the recording state machine, and bridges
// telemetry and control messages over the broker.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/technosupport/guardcar/internal/camera"
	"github.com/technosupport/guardcar/internal/config"
	"github.com/technosupport/guardcar/internal/control"
	"github.com/technosupport/guardcar/internal/detect"
	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/health"
	"github.com/technosupport/guardcar/internal/metrics"
	"github.com/technosupport/guardcar/internal/pipeline"
	"github.com/technosupport/guardcar/internal/recording"
	"github.com/technosupport/guardcar/internal/router"
	"github.com/technosupport/guardcar/internal/track"
)

func main() {
	configPath := getEnv("CONFIG_PATH", "guardcar-config.json")
	modelPath := getEnv("MODEL_PATH", "models/yolov8n.onnx")
	ortLibPath := getEnv("ONNXRUNTIME_LIB", "")
	metricsPort := getEnvInt("METRICS_PORT", 9100)

	cfg, err := config.Load(configPath, config.Transport{
		NATSURL:         os.Getenv("NATS_URL"),
		CameraIP:        os.Getenv("VIDEO_IP"),
		CameraVideoPort: getEnvInt("VIDEO_PORT", 0),
		CameraCtrlPort:  getEnvInt("CAMERA_CONTROL_PORT", 0),
		FrameTTLMs:      getEnvInt("FRAME_TTL_MS", 0),
		SuspicionTTLMs:  getEnvInt("SUSPICION_TTL_MS", 0),
		ResponseTTLMs:   getEnvInt("RESPONSE_TTL_MS", 0),
	})
	if err != nil {
		log.Fatalf("[Edge] config: %v", err)
	}
	transport := cfg.Transport()
	log.Printf("[Edge] starting - camera %s:%d, broker %s, config %s",
		transport.CameraIP, transport.CameraVideoPort, transport.NATSURL, configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Local detector first; a model that won't load is fatal.
	local, err := detect.NewLocalDetector(detect.LocalConfig{
		ModelPath:   modelPath,
		LibraryPath: ortLibPath,
	})
	if err != nil {
		log.Fatalf("[Edge] local model: %v", err)
	}
	defer local.Stop()

	snapshot := cfg.Snapshot()
	scorer := track.NewScorer(classWeights(snapshot.ClassK))
	tracks := track.NewManager(track.DefaultManagerConfig())
	rt := router.New(local, local.Classes(), tracks, scorer, router.Config{
		Breaker: router.DefaultBreakerConfig(),
	})

	// Event fabric.
	bus := events.NewManager("guardcar-edge", transport.NATSURL,
		events.EdgeQueues(cfg.FrameTTL(), cfg.SuspicionTTL(), cfg.ResponseTTL()))
	if err := bus.Connect(ctx); err != nil {
		log.Fatalf("[Edge] broker: %v", err)
	}
	defer bus.Close()

	// Recording controller against the camera control API.
	ctrlURL := fmt.Sprintf("http://%s", net.JoinHostPort(transport.CameraIP, strconv.Itoa(transport.CameraCtrlPort)))
	camCtl := camera.NewControlClient(ctrlURL, 3*time.Second)
	recorder := recording.NewController(camCtl, bus, snapshot.SuspicionScore)

	// Control dispatcher plus the two config consumers.
	dispatcher := control.NewDispatcher(rt, scorer, recorder, cfg, bus)
	go dispatcher.Run(ctx)
	for _, q := range []string{events.CloudProviderConfigQueue, events.SuspicionConfigQueue} {
		queue := q
		if err := bus.Consume(queue, "edge-"+events.Subject(queue), func(data []byte) {
			dispatcher.Enqueue(queue, data)
		}); err != nil {
			log.Fatalf("[Edge] consume %s: %v", queue, err)
		}
	}

	restoreProviders(rt, snapshot)

	// External edits to the config file hot-reload threshold and weights.
	cfg.Watch(ctx, func(f config.File) {
		recorder.SetThreshold(f.SuspicionScore)
		scorer.SetWeights(classWeights(f.ClassK))
	})

	prober := health.NewProber(camCtl, 10*time.Second)
	prober.Start()
	defer prober.Stop()

	go serveMetrics(metricsPort, prober)

	videoAddr := net.JoinHostPort(transport.CameraIP, strconv.Itoa(transport.CameraVideoPort))
	pump := pipeline.NewPump(videoAddr, rt, recorder, bus)
	pump.Run(ctx)

	log.Printf("[Edge] shutting down")
}

// restoreProviders re-registers the remotes the config file remembers. A
// provider that fails to build is logged and skipped; the breaker handles
// one that builds but cannot connect.
func restoreProviders(rt *router.Router, f config.File) {
	for name, p := range f.Providers {
		if p.Type != config.ProviderTypeRemote {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(p.ServerCertification)
		if err != nil {
			log.Printf("[Edge] persisted provider %s has a bad certificate, skipping", name)
			continue
		}
		remote, err := detect.NewRemoteDetector(detect.RemoteConfig{
			Name:    name,
			Address: p.ConnectionIP,
			CertDER: der,
		})
		if err != nil {
			log.Printf("[Edge] persisted provider %s: %v, skipping", name, err)
			continue
		}
		if err := rt.Register(name, remote); err != nil {
			remote.Stop()
			continue
		}
		if p.Active {
			_ = rt.Select(name)
		}
		log.Printf("[Edge] restored provider %s (%s)", name, p.ConnectionIP)
	}
}

func serveMetrics(port int, prober *health.Prober) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"camera_up": prober.Healthy(),
		})
	})
	addr := fmt.Sprintf(":%d", port)
	log.Printf("[Edge] metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[Edge] metrics server: %v", err)
	}
}

func classWeights(classK map[string]float64) map[int]float64 {
	out := make(map[int]float64, len(classK))
	for k, v := range classK {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	if len(out) == 0 {
		return track.DefaultWeights()
	}
	return out
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
