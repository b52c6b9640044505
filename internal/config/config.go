// Package config owns the edge's persisted runtime configuration: the single
// JSON file holding providers, the suspicion threshold, class weights and
// transport endpoints. Writes go through a temp file plus rename so a crash
// mid-write never corrupts it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProviderTypeLocal and ProviderTypeRemote are the two persisted provider
// kinds.
const (
	ProviderTypeLocal  = "local"
	ProviderTypeRemote = "remote"
)

var ErrProviderNotFound = errors.New("provider not found in config")

// Provider is the persisted registration of one detection provider.
type Provider struct {
	Type                string `json:"type"`
	ConnectionIP        string `json:"connection_ip,omitempty"`
	ServerCertification string `json:"server_certification,omitempty"` // base64 DER
	Active              bool   `json:"active"`
}

// Transport holds the endpoint settings the environment seeds and the file
// overrides.
type Transport struct {
	NATSURL         string `json:"nats_url"`
	CameraIP        string `json:"camera_ip"`
	CameraVideoPort int    `json:"camera_video_port"`
	CameraCtrlPort  int    `json:"camera_control_port"`

	FrameTTLMs     int `json:"frame_ttl_ms"`
	SuspicionTTLMs int `json:"suspicion_ttl_ms"`
	ResponseTTLMs  int `json:"response_ttl_ms"`
}

// File is the on-disk shape.
type File struct {
	Providers      map[string]Provider `json:"providers"`
	SuspicionScore int                 `json:"suspicion_score"`
	ClassK         map[string]float64  `json:"class_k"`
	Transport      Transport           `json:"transport"`
}

// Manager loads, mutates and persists the config file. All mutations are
// serialized by the control dispatcher, but the watcher goroutine reads too,
// so a mutex covers the state.
type Manager struct {
	path string

	mu   sync.RWMutex
	file File
}

// Defaults is the config a fresh edge starts from: local provider only,
// threshold 75, default class weights.
func Defaults() File {
	return File{
		Providers: map[string]Provider{
			ProviderTypeLocal: {Type: ProviderTypeLocal, Active: true},
		},
		SuspicionScore: 75,
		ClassK: map[string]float64{
			"0": 1.6, "1": 0.6, "2": 1.0, "3": 1.0, "5": 1.4, "7": 1.4,
		},
		Transport: Transport{
			NATSURL:         "nats://localhost:4222",
			CameraIP:        "127.0.0.1",
			CameraVideoPort: 9000,
			CameraCtrlPort:  8080,
			FrameTTLMs:      100,
			SuspicionTTLMs:  100,
			ResponseTTLMs:   1000,
		},
	}
}

// Load reads the file at path, creating it from defaults (plus the env
// overrides in seed) when missing. Persisted values win over the seed.
func Load(path string, seed Transport) (*Manager, error) {
	m := &Manager{path: path, file: Defaults()}
	applyseed(&m.file.Transport, seed)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := m.save(); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if f.Providers == nil {
		f.Providers = Defaults().Providers
	}
	if f.ClassK == nil {
		f.ClassK = Defaults().ClassK
	}
	fillTransport(&f.Transport, m.file.Transport)
	m.file = f
	return m, nil
}

// applyseed copies non-zero env values over the defaults.
func applyseed(dst *Transport, seed Transport) {
	if seed.NATSURL != "" {
		dst.NATSURL = seed.NATSURL
	}
	if seed.CameraIP != "" {
		dst.CameraIP = seed.CameraIP
	}
	if seed.CameraVideoPort != 0 {
		dst.CameraVideoPort = seed.CameraVideoPort
	}
	if seed.CameraCtrlPort != 0 {
		dst.CameraCtrlPort = seed.CameraCtrlPort
	}
	if seed.FrameTTLMs != 0 {
		dst.FrameTTLMs = seed.FrameTTLMs
	}
	if seed.SuspicionTTLMs != 0 {
		dst.SuspicionTTLMs = seed.SuspicionTTLMs
	}
	if seed.ResponseTTLMs != 0 {
		dst.ResponseTTLMs = seed.ResponseTTLMs
	}
}

// fillTransport backfills zero fields in a loaded file from the seeded
// defaults.
func fillTransport(dst *Transport, def Transport) {
	if dst.NATSURL == "" {
		dst.NATSURL = def.NATSURL
	}
	if dst.CameraIP == "" {
		dst.CameraIP = def.CameraIP
	}
	if dst.CameraVideoPort == 0 {
		dst.CameraVideoPort = def.CameraVideoPort
	}
	if dst.CameraCtrlPort == 0 {
		dst.CameraCtrlPort = def.CameraCtrlPort
	}
	if dst.FrameTTLMs == 0 {
		dst.FrameTTLMs = def.FrameTTLMs
	}
	if dst.SuspicionTTLMs == 0 {
		dst.SuspicionTTLMs = def.SuspicionTTLMs
	}
	if dst.ResponseTTLMs == 0 {
		dst.ResponseTTLMs = def.ResponseTTLMs
	}
}

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() File {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

func (m *Manager) copyLocked() File {
	cp := m.file
	cp.Providers = make(map[string]Provider, len(m.file.Providers))
	for k, v := range m.file.Providers {
		cp.Providers[k] = v
	}
	cp.ClassK = make(map[string]float64, len(m.file.ClassK))
	for k, v := range m.file.ClassK {
		cp.ClassK[k] = v
	}
	return cp
}

// Transport returns the endpoint settings.
func (m *Manager) Transport() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.file.Transport
}

// FrameTTL, SuspicionTTL and ResponseTTL as durations.
func (m *Manager) FrameTTL() time.Duration {
	return time.Duration(m.Transport().FrameTTLMs) * time.Millisecond
}

func (m *Manager) SuspicionTTL() time.Duration {
	return time.Duration(m.Transport().SuspicionTTLMs) * time.Millisecond
}

func (m *Manager) ResponseTTL() time.Duration {
	return time.Duration(m.Transport().ResponseTTLMs) * time.Millisecond
}

// SetProvider upserts a provider and persists. When active is true every
// other provider is deactivated.
func (m *Manager) SetProvider(name string, p Provider, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Active = active
	if active {
		for k, v := range m.file.Providers {
			v.Active = false
			m.file.Providers[k] = v
		}
	}
	m.file.Providers[name] = p
	return m.save()
}

// RemoveProvider deletes a provider and marks the replacement active.
func (m *Manager) RemoveProvider(name, nextActive string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.file.Providers[name]; !ok {
		return ErrProviderNotFound
	}
	delete(m.file.Providers, name)
	for k, v := range m.file.Providers {
		v.Active = k == nextActive
		m.file.Providers[k] = v
	}
	return m.save()
}

// SetSuspicion persists the threshold and, when weights is non-empty, the
// class weight table. The caller validates and clamps first.
func (m *Manager) SetSuspicion(threshold int, weights map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.file.SuspicionScore = threshold
	if len(weights) > 0 {
		for k, v := range weights {
			m.file.ClassK[k] = v
		}
	}
	return m.save()
}

// save writes to a temp file in the same directory and renames over the
// target. Caller holds the lock.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.file, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".guardcar-config-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, m.path)
}

// Path returns the config file location (the watcher needs it).
func (m *Manager) Path() string { return m.path }

// Reload re-reads the file in place, used by the watcher after an external
// edit. Unparseable content is ignored; the in-memory state stays.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Providers == nil {
		f.Providers = m.file.Providers
	}
	if f.ClassK == nil {
		f.ClassK = m.file.ClassK
	}
	fillTransport(&f.Transport, m.file.Transport)
	m.file = f
	return nil
}
