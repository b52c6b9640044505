// Package health probes the camera control API on a schedule so the metrics
// endpoint and the logs reflect a dead camera within seconds.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/guardcar/internal/camera"
	"github.com/technosupport/guardcar/internal/metrics"
)

const defaultInterval = 10 * time.Second

// Prober polls GET /health and GET /status.
type Prober struct {
	client   *camera.ControlClient
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	healthy bool
	status  *camera.Status
}

func NewProber(client *camera.ControlClient, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Prober{
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the probe loop.
func (p *Prober) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.probe()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.probe()
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Prober) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	healthy := p.client.Healthy(ctx)
	var status *camera.Status
	if healthy {
		status, _ = p.client.Status(ctx)
	}

	p.mu.Lock()
	wasHealthy := p.healthy
	p.healthy = healthy
	p.status = status
	p.mu.Unlock()

	metrics.SetCameraUp(healthy)
	if healthy != wasHealthy {
		if healthy {
			log.Printf("[Health] camera control API is up")
		} else {
			log.Printf("[Health] camera control API is down")
		}
	}
}

// Healthy reports the last probe result.
func (p *Prober) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// Status returns the last /status snapshot, nil when the camera is down.
func (p *Prober) Status() *camera.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
