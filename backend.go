package streamdec

import (
	"fmt"
	"sync"
	"time"
)

//go:generate mockgen -source=backend.go -destination=mocks/mock_backend.go -package=mocks

// SyncToken identifies an in-flight asynchronous decode.
type SyncToken uint64

// Backend is the codec surface a Decoder drives. It mirrors a hardware decode
// SDK: header negotiation, asynchronous submit into caller-provided surfaces,
// and a separate sync step. Implementations need not be safe for concurrent use.
type Backend interface {
	// Open creates the codec session.
	Open() error

	// DecodeHeader resolves stream parameters from the head of bs without
	// consuming it. It returns ErrNeedMoreData until a full sequence header
	// is present.
	DecodeHeader(bs *Bitstream) (StreamParams, error)

	// SurfaceCount reports how many surfaces decoding params requires.
	SurfaceCount(params StreamParams) int

	// Init prepares the session to decode params into surfaces from pool.
	Init(params StreamParams, pool *SurfacePool) error

	// DecodeAsync consumes input from bs and starts decoding into work.
	// On success it returns the surface that will hold the next output
	// frame (which may differ from work) and the token to sync on; the
	// backend keeps the output surface locked until that token completes.
	// A nil bs drains frames buffered inside the codec.
	//
	// Backend signals: ErrNeedMoreData (no complete frame in bs),
	// ErrMoreSurface (work was retained, call again with another surface),
	// ErrParamsChanged (new sequence header at the head of bs).
	DecodeAsync(bs *Bitstream, work *Surface) (out *Surface, token SyncToken, err error)

	// Sync waits up to timeout for token to complete; a zero timeout polls.
	// It returns ErrNotReady if the operation is still running.
	Sync(token SyncToken, timeout time.Duration) error

	// Close destroys the codec session. Open may be called again afterwards.
	Close() error

	// Provider returns which provider implements this backend.
	Provider() Provider
}

// BackendConfig configures a backend created through NewBackend.
type BackendConfig struct {
	Provider Provider // Provider to use (ProviderAuto = library chooses)
	Threads  int      // Software decode threads (0 = auto)

	// AsyncDepth is how many decodes may be in flight; it adds surfaces on
	// top of the codec's own requirement.
	AsyncDepth int

	// CompleteFrames tells the codec every input chunk ends on a frame
	// boundary, as the receive framing guarantees.
	CompleteFrames bool
}

// DefaultBackendConfig returns a default backend configuration.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Provider:       ProviderAuto,
		AsyncDepth:     4,
		CompleteFrames: true,
	}
}

// --- Registry ---

type backendFactory func(BackendConfig) (Backend, error)

type backendRegistry struct {
	mu        sync.RWMutex
	factories map[Provider]backendFactory
}

var globalBackendRegistry = &backendRegistry{
	factories: make(map[Provider]backendFactory),
}

// autoOrder is the preference order for ProviderAuto: hardware first, then
// software. ProviderNull is never chosen automatically.
var autoOrder = []Provider{ProviderQSV, ProviderOpenH264}

// registerBackend registers a backend factory for a provider.
func registerBackend(provider Provider, factory backendFactory) {
	globalBackendRegistry.mu.Lock()
	defer globalBackendRegistry.mu.Unlock()
	globalBackendRegistry.factories[provider] = factory
}

// NewBackend creates a backend for config.Provider. With ProviderAuto it picks
// the first available native provider.
func NewBackend(config BackendConfig) (Backend, error) {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	p := config.Provider
	if p == ProviderAuto {
		for _, candidate := range autoOrder {
			if _, ok := globalBackendRegistry.factories[candidate]; ok && candidate.Available() {
				p = candidate
				break
			}
		}
		if p == ProviderAuto {
			return nil, fmt.Errorf("%w: no native H.264 decoder available", ErrSession)
		}
	}

	factory, ok := globalBackendRegistry.factories[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: provider %s not available", ErrSession, p)
	}
	return factory(config)
}

// AvailableProviders returns the providers NewBackend can create.
func AvailableProviders() []Provider {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	result := make([]Provider, 0, len(globalBackendRegistry.factories))
	for _, p := range Providers() {
		if _, ok := globalBackendRegistry.factories[p]; ok && p.Available() {
			result = append(result, p)
		}
	}
	return result
}

func init() {
	registerBackend(ProviderNull, func(config BackendConfig) (Backend, error) {
		return NewNullBackend(NullBackendConfig{
			Surfaces:       config.AsyncDepth,
			CompleteFrames: config.CompleteFrames,
		}), nil
	})
}
