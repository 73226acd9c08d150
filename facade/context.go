// File: facade/context.go
// Per-worker composition root for hioload-serverkit.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerContext owns the worker's buffer pool, the disk executor the channel
// movers run on, the channel default options and the introspection registries.
// It references, but does not own, the event loop(s) the worker runs on. Every
// method is meant for the primary loop goroutine.

package facade

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
	"github.com/momentics/hioload-serverkit/channel"
	"github.com/momentics/hioload-serverkit/control"
	"github.com/momentics/hioload-serverkit/core/concurrency"
	"github.com/momentics/hioload-serverkit/pool"
)

// Probe names of the introspection document.
const (
	ProbePool     = "mbuf_pool"
	ProbeChannels = "channels"
	ProbeConfig   = "config"
	ProbeExecutor = "executor"
	ProbePlatform = "platform"
)

// Config holds the context construction inputs.
type Config struct {
	Loop               api.Loop       // required, the loop owning the context
	SecondaryLoop      api.Loop       // optional cooperating loop
	SecureModePassword string         // opaque credential for privileged operations
	Pool               pool.Config    // mbuf pool settings
	ChannelDefaults    channel.Config // applied to channels that don't override them
	DiskWorkers        int            // executor goroutines for mover jobs
	Logger             zerolog.Logger
}

// DefaultConfig returns default configuration values. Loop must still be set.
func DefaultConfig() *Config {
	return &Config{
		Pool:            pool.DefaultConfig(),
		ChannelDefaults: channel.DefaultConfig(),
		DiskWorkers:     2,
		Logger:          zerolog.Nop(),
	}
}

// WorkerContext is the per-worker owner of pool, channels and configuration.
type WorkerContext struct {
	cfg Config
	log zerolog.Logger

	pool     *pool.Pool
	executor *concurrency.Executor
	store    *control.ConfigStore
	probes   *control.DebugProbes
	metrics  *control.MetricsRegistry

	defaults channel.Config
	channels map[channel.Channel]struct{}
	closed   bool
}

// New constructs a WorkerContext and its pool. A nil cfg is DefaultConfig,
// which fails for lack of a loop.
func New(cfg *Config) (*WorkerContext, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("%w: worker context needs an event loop", api.ErrInvalidArgument)
	}
	if err := cfg.ChannelDefaults.Validate(); err != nil {
		return nil, fmt.Errorf("channel defaults: %w", err)
	}
	c := *cfg
	if c.DiskWorkers <= 0 {
		c.DiskWorkers = 2
	}
	if c.Pool.Logger == nil {
		c.Pool.Logger = &c.Logger
	}

	p, err := pool.New(c.Pool)
	if err != nil {
		return nil, fmt.Errorf("mbuf pool init failure: %w", err)
	}

	w := &WorkerContext{
		cfg:      c,
		log:      c.Logger.With().Str("component", "worker_context").Logger(),
		pool:     p,
		executor: concurrency.NewExecutor(c.DiskWorkers, c.Logger),
		store:    control.NewConfigStore(c.ChannelDefaults.Options()),
		probes:   control.NewDebugProbes(),
		metrics:  control.NewMetricsRegistry(),
		defaults: c.ChannelDefaults,
		channels: make(map[channel.Channel]struct{}),
	}
	w.store.OnReload(w.reloadChannelDefaults)

	w.probes.RegisterProbe(ProbePool, func() any { return w.pool.Inspect() })
	w.probes.RegisterProbe(ProbeChannels, w.channelsProbe)
	w.probes.RegisterProbe(ProbeConfig, func() any { return w.store.GetSnapshot() })
	w.probes.RegisterProbe(ProbeExecutor, func() any { return w.executor.Stats() })
	control.RegisterPlatformProbes(w.probes)

	w.log.Debug().
		Int("chunk_size", p.ChunkSize()).
		Int("disk_workers", c.DiskWorkers).
		Bool("secondary_loop", c.SecondaryLoop != nil).
		Msg("worker context ready")
	return w, nil
}

// Pool returns the context's buffer pool.
func (w *WorkerContext) Pool() *pool.Pool { return w.pool }

// Loop returns the primary event loop.
func (w *WorkerContext) Loop() api.Loop { return w.cfg.Loop }

// SecondaryLoop returns the optional cooperating loop, or nil.
func (w *WorkerContext) SecondaryLoop() api.Loop { return w.cfg.SecondaryLoop }

// SecureModePassword returns the opaque credential.
func (w *WorkerContext) SecureModePassword() string { return w.cfg.SecureModePassword }

// DefaultChannelConfig returns the configuration new channels start from.
func (w *WorkerContext) DefaultChannelConfig() channel.Config { return w.defaults }

// Debug exposes the probe registry for extra probes.
func (w *WorkerContext) Debug() api.Debug { return w.probes }

// SetChannelOptions validates opts against the current defaults and stores them.
// Channels created afterwards use the new values; existing ones keep theirs.
func (w *WorkerContext) SetChannelOptions(opts map[string]any) error {
	if _, err := w.defaults.WithOptions(opts); err != nil {
		return err
	}
	w.store.SetConfig(opts)
	return nil
}

func (w *WorkerContext) reloadChannelDefaults(snapshot map[string]any) {
	cfg, err := channel.DefaultConfig().WithOptions(snapshot)
	if err != nil {
		w.log.Error().Err(err).Msg("rejected channel options reload")
		return
	}
	w.defaults = cfg
	w.log.Debug().Interface("options", snapshot).Msg("channel defaults reloaded")
}

// NewBufferedChannel creates a memory-only channel on the context's pool.
func (w *WorkerContext) NewBufferedChannel() (*channel.BufferedChannel, error) {
	if w.closed {
		return nil, api.ErrPoolClosed
	}
	ch := channel.NewBuffered(w.pool)
	w.track(ch)
	return ch, nil
}

// NewFileBufferedChannel creates a spilling channel from the defaults with opts applied.
func (w *WorkerContext) NewFileBufferedChannel(opts ...channel.ConfigOption) (*channel.FileBufferedChannel, error) {
	if w.closed {
		return nil, api.ErrPoolClosed
	}
	cfg := w.defaults
	for _, opt := range opts {
		opt(&cfg)
	}
	ch, err := channel.NewFileBuffered(channel.Deps{
		Pool:     w.pool,
		Loop:     w.cfg.Loop,
		Executor: w.executor,
		Logger:   w.cfg.Logger,
	}, cfg)
	if err != nil {
		return nil, err
	}
	w.track(ch)
	return ch, nil
}

// track holds ch until its Close runs.
func (w *WorkerContext) track(ch channel.Channel) {
	w.channels[ch] = struct{}{}
	w.metrics.Add("created", 1)
	ch.OnClose(func() {
		delete(w.channels, ch)
		w.metrics.Add("closed", 1)
	})
}

// LiveChannels returns how many channels created by the context are still open.
func (w *WorkerContext) LiveChannels() int { return len(w.channels) }

// channelsProbe refreshes aggregate gauges over the live channels.
func (w *WorkerContext) channelsProbe() any {
	modes := make(map[string]int)
	var pending, spills, moved, readBack int64
	for ch := range w.channels {
		modes[ch.Mode().String()]++
		pending += ch.Pending()
		if fc, ok := ch.(*channel.FileBufferedChannel); ok {
			st := fc.Stats()
			spills += st.Spills
			moved += st.BytesMoved
			readBack += st.BytesReadBack
		}
	}
	w.metrics.Set("live", int64(len(w.channels)))
	w.metrics.Set("modes", modes)
	w.metrics.Set("pending_bytes", pending)
	w.metrics.Set("spills", spills)
	w.metrics.Set("bytes_moved", moved)
	w.metrics.Set("bytes_read_back", readBack)
	return w.metrics.GetSnapshot()
}

// InspectState returns the structured introspection document.
func (w *WorkerContext) InspectState() map[string]any {
	return w.probes.DumpState()
}

// InspectStateJSON renders InspectState as JSON.
func (w *WorkerContext) InspectStateJSON() ([]byte, error) {
	return json.Marshal(w.InspectState())
}

// Close closes every live channel, waits for mover jobs, and tears down the
// pool. Calling Close twice is a no-op.
func (w *WorkerContext) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	var files []*channel.FileBufferedChannel
	for ch := range w.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
		if fc, ok := ch.(*channel.FileBufferedChannel); ok {
			files = append(files, fc)
		}
	}
	w.executor.Close()
	for _, fc := range files {
		fc.WaitMover()
	}
	clear(w.channels)

	if err := w.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		w.log.Warn().Err(err).Msg("worker context closed with errors")
	}
	return err
}
