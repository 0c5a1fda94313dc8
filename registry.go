package rhi

import (
	"fmt"
	"sort"
	"sync"
)

// BackendConfig is handed to a backend when a device is opened.
type BackendConfig struct {
	Label string

	// Debug enables native validation where the backend supports it.
	Debug bool

	// DescriptorModel is honoured by backends that can emulate either model.
	DescriptorModel DescriptorModel
}

// Backend opens native devices for one graphics API. Backend packages
// register an implementation from their init function.
//
// A Backend that also implements SetLogger(*slog.Logger) receives the logger
// configured through SetLogger.
type Backend interface {
	API() GraphicsAPI
	Open(cfg BackendConfig) (Device, error)
}

var (
	registryMu sync.RWMutex
	backends   = make(map[GraphicsAPI]Backend)

	// Priority order for automatic selection (first available wins).
	backendPriority = []GraphicsAPI{APIDX12, APIVulkan, APISoftware}
)

// RegisterBackend registers b for its API. A backend already registered for
// the same API is replaced.
func RegisterBackend(b Backend) {
	registryMu.Lock()
	backends[b.API()] = b
	registryMu.Unlock()

	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(Logger())
	}
}

// UnregisterBackend removes the backend for api. Used by tests.
func UnregisterBackend(api GraphicsAPI) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, api)
}

// AvailableBackends returns the registered APIs in priority order.
func AvailableBackends() []GraphicsAPI {
	registryMu.RLock()
	defer registryMu.RUnlock()

	apis := make([]GraphicsAPI, 0, len(backends))
	for api := range backends {
		apis = append(apis, api)
	}
	sort.Slice(apis, func(i, j int) bool { return priorityOf(apis[i]) < priorityOf(apis[j]) })
	return apis
}

// IsBackendRegistered reports whether a backend is registered for api.
func IsBackendRegistered(api GraphicsAPI) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[api]
	return ok
}

// OpenDevice opens a device on the backend registered for api. APIUnknown
// selects the highest-priority registered backend whose Open succeeds.
func OpenDevice(api GraphicsAPI, cfg BackendConfig) (Device, error) {
	if api != APIUnknown {
		registryMu.RLock()
		b, ok := backends[api]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBackendNotAvailable, api)
		}
		dev, err := b.Open(cfg)
		if err != nil {
			return nil, NativeError("open device", err)
		}
		Logger().Info("rhi: device opened", "api", api, "adapter", dev.Caps().AdapterName)
		return dev, nil
	}

	var lastErr error
	for _, candidate := range AvailableBackends() {
		dev, err := OpenDevice(candidate, cfg)
		if err == nil {
			return dev, nil
		}
		Logger().Warn("rhi: backend unavailable, trying next", "api", candidate, "err", err)
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrBackendNotAvailable
}

func priorityOf(api GraphicsAPI) int {
	for i, p := range backendPriority {
		if p == api {
			return i
		}
	}
	return len(backendPriority)
}
