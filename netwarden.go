package netwarden

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netwarden/netwarden/internal/bridge"
	"github.com/netwarden/netwarden/internal/config"
	"github.com/netwarden/netwarden/internal/event"
	"github.com/netwarden/netwarden/internal/history"
	"github.com/netwarden/netwarden/internal/history/factory"
	"github.com/netwarden/netwarden/internal/installer"
	"github.com/netwarden/netwarden/internal/logger"
	"github.com/netwarden/netwarden/internal/metrics"
	"github.com/netwarden/netwarden/internal/pathctx"
	"github.com/netwarden/netwarden/internal/pyruntime"
	"github.com/netwarden/netwarden/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Event = event.Event

type Channel = event.Channel

const (
	ChannelOutput    = event.ChannelOutput
	ChannelError     = event.ChannelError
	ChannelClosed    = event.ChannelClosed
	ChannelStopped   = event.ChannelStopped
	ChannelRestarted = event.ChannelRestarted
)

type Status = supervisor.Status

type Handle = supervisor.Handle

type Config = config.Config

type DialogOptions = bridge.DialogOptions

type Dialoguer = bridge.Dialoguer

// Notifier receives install/runtime outcomes. Alert is for failures,
// Notify for successes.
type Notifier = installer.Notifier

type HistorySink = history.Sink

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() *Config { return config.Default() }

// NewHistorySink builds a lifecycle-history sink from a DSN
// (sqlite://, postgres://, clickhouse://, opensearch://).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func MetricsHandler() http.Handler { return metrics.Handler() }

// HostOptions tunes a Host beyond what the config file covers.
type HostOptions struct {
	Version  string
	Logger   *slog.Logger
	Dialog   Dialoguer // answers showMessageBox; nil answers the default button
	Notifier Notifier  // nil logs outcomes through Logger
}

// Host wires the runtime locator, supervisor, installer and bridge together
// from one Config. It is the embeddable equivalent of the netwarden daemon.
type Host struct {
	cfg    *config.Config
	sup    *supervisor.Supervisor
	inst   *installer.Installer
	br     *bridge.Bridge
	sinks  []history.Sink
	logger *slog.Logger
}

func NewHost(cfg *Config, opts HostOptions) (*Host, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewSlog(cfg.Log.Level)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{log: log}
	}

	e, err := cfg.BuildEnv()
	if err != nil {
		return nil, err
	}
	path, err := pathctx.Resolve(cfg.Packaged, cfg.BackendDir)
	if err != nil {
		return nil, err
	}
	loc := pyruntime.NewLocator(cfg.Runtime.Candidates...)
	if cfg.Runtime.ProbeTimeout > 0 {
		loc.Timeout = cfg.Runtime.ProbeTimeout
	}

	sinks := make([]history.Sink, 0, len(cfg.History.Sinks))
	for _, dsn := range cfg.History.Sinks {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}

	sup := supervisor.New(supervisor.Options{
		Locator:  loc,
		Path:     path,
		Env:      e,
		Mirror:   cfg.Log.Mirror,
		Sinks:    sinks,
		Notifier: notifier,
		Logger:   log,
		StopWait: cfg.Supervisor.StopWait,
		Settle:   cfg.Supervisor.Settle,
	})

	inst := installer.New(loc, path, notifier, log)
	inst.Env = e
	if cfg.Installer.Timeout > 0 {
		inst.Timeout = cfg.Installer.Timeout
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			closeSinks(sinks)
			return nil, err
		}
	}

	br := bridge.New(sup, inst, opts.Dialog, opts.Version, cfg.BasePath, log)

	return &Host{cfg: cfg, sup: sup, inst: inst, br: br, sinks: sinks, logger: log}, nil
}

func (h *Host) Start(ctx context.Context) error   { return h.sup.Start(ctx) }
func (h *Host) Stop() error                       { return h.sup.Stop() }
func (h *Host) Restart(ctx context.Context) error { return h.sup.Restart(ctx) }
func (h *Host) Install(ctx context.Context) error { return h.inst.Install(ctx) }
func (h *Host) Status() Status                    { return h.sup.Status() }

// Subscribe attaches a listener to one of the allowlisted lifecycle channels.
func (h *Host) Subscribe(c Channel) (chan Event, error) { return h.sup.Bus().Subscribe(c) }

func (h *Host) Unsubscribe(c Channel, ch chan Event) { h.sup.Bus().Unsubscribe(c, ch) }

func (h *Host) RemoveAllListeners(c Channel) { h.sup.Bus().RemoveAll(c) }

// Handler exposes the bridge and control routes for embedding in an
// existing HTTP server.
func (h *Host) Handler() http.Handler { return h.br.Handler() }

// NewServer starts a standalone HTTP server on the configured listen address.
func (h *Host) NewServer() (*http.Server, error) {
	return bridge.NewServer(h.cfg.Listen, h.br)
}

// Shutdown stops the backend, waits for its exit and closes history sinks.
func (h *Host) Shutdown() {
	h.sup.Shutdown()
	closeSinks(h.sinks)
}

func closeSinks(sinks []history.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// logNotifier routes outcome notifications to the structured log when no
// dialog surface is attached.
type logNotifier struct{ log *slog.Logger }

func (n logNotifier) Alert(title, message string)  { n.log.Warn(title, "detail", message) }
func (n logNotifier) Notify(title, message string) { n.log.Info(title, "detail", message) }
