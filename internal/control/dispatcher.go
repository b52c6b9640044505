// Package control serializes the edge's control-plane side effects: provider
// registration/removal and suspicion-config updates, one message at a time,
// each answered by exactly one ResponseMessage.
package control

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/technosupport/guardcar/internal/config"
	"github.com/technosupport/guardcar/internal/detect"
	"github.com/technosupport/guardcar/internal/events"
	"github.com/technosupport/guardcar/internal/recording"
	"github.com/technosupport/guardcar/internal/router"
	"github.com/technosupport/guardcar/internal/track"
)

// readyWait is how long a freshly registered remote gets to come up before
// the registration is rejected.
const readyWait = 5 * time.Second

// Publisher posts response messages back to the fabric.
type Publisher interface {
	Publish(queue string, v any) error
}

// remoteFactory builds a remote detector; tests stub it.
type remoteFactory func(cfg detect.RemoteConfig) (remoteDetector, error)

// remoteDetector is what the dispatcher needs from a freshly built remote.
type remoteDetector interface {
	detect.Detector
	WaitReady(timeout time.Duration) bool
}

// Dispatcher drains a bounded queue of decoded control messages on a single
// goroutine. Consumers enqueue raw broker payloads; everything that mutates
// the router, scorer, recorder or config happens here and nowhere else.
type Dispatcher struct {
	router   *router.Router
	scorer   *track.Scorer
	recorder *recording.Controller
	cfg      *config.Manager
	pub      Publisher

	newRemote remoteFactory
	queue     chan *events.ControlMessage
}

func NewDispatcher(r *router.Router, s *track.Scorer, rec *recording.Controller, cfg *config.Manager, pub Publisher) *Dispatcher {
	return &Dispatcher{
		router:   r,
		scorer:   s,
		recorder: rec,
		cfg:      cfg,
		pub:      pub,
		newRemote: func(c detect.RemoteConfig) (remoteDetector, error) {
			return detect.NewRemoteDetector(c)
		},
		queue: make(chan *events.ControlMessage, 32),
	}
}

// Enqueue decodes one raw broker payload and queues it for the dispatch
// loop. Malformed messages are answered with a failure response and dropped
// here; they never reach the loop.
func (d *Dispatcher) Enqueue(queue string, data []byte) {
	msg, err := events.DecodeControl(queue, data)
	if err != nil {
		log.Printf("[Control] %v", err)
		d.respond(false, "malformed control message", events.RelatedGeneral)
		return
	}
	select {
	case d.queue <- msg:
	default:
		// Control messages are rare; a full queue means the dispatcher is
		// wedged and dropping with a response beats blocking the consumer.
		log.Printf("[Control] dispatch queue full, dropping %s", queue)
		d.respond(false, "control dispatcher overloaded", events.RelatedGeneral)
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.handle(msg)
		}
	}
}

func (d *Dispatcher) handle(msg *events.ControlMessage) {
	switch {
	case msg.Provider != nil && msg.Provider.Delete:
		d.deleteProvider(msg.Provider)
	case msg.Provider != nil:
		d.registerProvider(msg.Provider)
	case msg.Suspicion != nil:
		d.updateSuspicion(msg.Suspicion)
	default:
		log.Printf("[Control] empty control message from %s", msg.Queue)
		d.respond(false, "unknown control message", events.RelatedGeneral)
	}
}

func (d *Dispatcher) registerProvider(m *events.CloudProviderConfigMessage) {
	if m.ProviderName == router.LocalName {
		d.respond(false, "provider name 'local' is reserved", events.RelatedCloud)
		return
	}

	der, err := base64.StdEncoding.DecodeString(m.ServerCertification)
	if err != nil {
		log.Printf("[Control] provider %s: bad certificate encoding: %v", m.ProviderName, err)
		d.respond(false, "invalid server certificate", events.RelatedCloud)
		return
	}

	remote, err := d.newRemote(detect.RemoteConfig{
		Name:    m.ProviderName,
		Address: m.ConnectionIP,
		CertDER: der,
	})
	if err != nil {
		log.Printf("[Control] provider %s: %v", m.ProviderName, err)
		d.respond(false, fmt.Sprintf("provider rejected: %v", err), events.RelatedCloud)
		return
	}

	if !remote.WaitReady(readyWait) {
		remote.Stop()
		log.Printf("[Control] provider %s: not ready within %s", m.ProviderName, readyWait)
		d.respond(false, fmt.Sprintf("provider %s unreachable", m.ProviderName), events.RelatedCloud)
		return
	}

	if err := d.router.Register(m.ProviderName, remote); err != nil {
		remote.Stop()
		d.respond(false, fmt.Sprintf("register %s: %v", m.ProviderName, err), events.RelatedCloud)
		return
	}
	if err := d.router.Select(m.ProviderName); err != nil {
		d.respond(false, fmt.Sprintf("select %s: %v", m.ProviderName, err), events.RelatedCloud)
		return
	}

	if err := d.cfg.SetProvider(m.ProviderName, config.Provider{
		Type:                config.ProviderTypeRemote,
		ConnectionIP:        m.ConnectionIP,
		ServerCertification: m.ServerCertification,
	}, true); err != nil {
		log.Printf("[Control] persist provider %s: %v", m.ProviderName, err)
	}

	log.Printf("[Control] provider %s registered and selected", m.ProviderName)
	d.respond(true, fmt.Sprintf("provider %s active", m.ProviderName), events.RelatedCloud)
}

func (d *Dispatcher) deleteProvider(m *events.CloudProviderConfigMessage) {
	if m.ProviderName == router.LocalName {
		d.respond(false, "local provider cannot be removed", events.RelatedCloud)
		return
	}

	next := d.router.FindNextRemote(m.ProviderName)
	if err := d.router.Select(next); err != nil {
		// The replacement vanished between lookup and select; local always
		// exists.
		next = router.LocalName
		_ = d.router.Select(next)
	}
	if err := d.router.Remove(m.ProviderName); err != nil {
		log.Printf("[Control] remove provider %s: %v", m.ProviderName, err)
		d.respond(false, fmt.Sprintf("remove %s: %v", m.ProviderName, err), events.RelatedCloud)
		return
	}

	if err := d.cfg.RemoveProvider(m.ProviderName, next); err != nil {
		log.Printf("[Control] persist removal of %s: %v", m.ProviderName, err)
	}

	log.Printf("[Control] provider %s removed, %s selected", m.ProviderName, next)
	d.respond(true, fmt.Sprintf("provider %s removed, %s active", m.ProviderName, next), events.RelatedCloud)
}

func (d *Dispatcher) updateSuspicion(m *events.SuspicionConfigMessage) {
	threshold := m.Threshold
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 100 {
		threshold = 100
	}
	d.recorder.SetThreshold(threshold)

	if len(m.ClassWeights) > 0 {
		weights := d.scorer.Weights()
		for key, w := range m.ClassWeights {
			id, err := strconv.Atoi(key)
			if err != nil {
				log.Printf("[Control] ignoring class weight with bad key %q", key)
				continue
			}
			weights[id] = w
		}
		d.scorer.SetWeights(weights)
	}

	if err := d.cfg.SetSuspicion(threshold, m.ClassWeights); err != nil {
		log.Printf("[Control] persist suspicion config: %v", err)
	}

	log.Printf("[Control] suspicion threshold=%d, %d weight updates", threshold, len(m.ClassWeights))
	d.respond(true, fmt.Sprintf("suspicion threshold set to %d", threshold), events.RelatedSuspicion)
}

func (d *Dispatcher) respond(success bool, message, relatedTo string) {
	if d.pub == nil {
		return
	}
	err := d.pub.Publish(events.ResponseQueue, events.ResponseMessage{
		Success:   success,
		Message:   message,
		RelatedTo: relatedTo,
	})
	if err != nil {
		log.Printf("[Control] response publish failed: %v", err)
	}
}
