// Package metrics exposes turn, snippet and IPC counters for Prometheus
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kraina-desktop/ipc"
	"kraina-desktop/tokens"
)

// Collectors holds every metric of the app. It implements
// assistant.Observer.
type Collectors struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	snippets      *prometheus.CounterVec
	snippetTime   *prometheus.HistogramVec
	ipcCommands   *prometheus.CounterVec
	ipcDuration   *prometheus.HistogramVec
	assetsLoaded  *prometheus.GaugeVec
	assetsReloads prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collectors{
		registry: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kraina_turns_total",
			Help: "Assistant turns by assistant, model and result",
		}, []string{"assistant", "model", "failed"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kraina_turn_duration_seconds",
			Help:    "Wall time of assistant turns",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"assistant"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kraina_tokens_total",
			Help: "Estimated tokens by model and bucket",
		}, []string{"model", "bucket"}),
		snippets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kraina_snippets_total",
			Help: "Snippet runs by snippet and result",
		}, []string{"snippet", "failed"}),
		snippetTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kraina_snippet_duration_seconds",
			Help:    "Wall time of snippet runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"snippet"}),
		ipcCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kraina_ipc_commands_total",
			Help: "IPC frames handled by command and outcome",
		}, []string{"command", "outcome"}),
		ipcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kraina_ipc_command_duration_seconds",
			Help:    "Time from frame to reply",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"command"}),
		assetsLoaded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kraina_assets_loaded",
			Help: "Loaded assistants and snippets",
		}, []string{"kind"}),
		assetsReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "kraina_asset_reloads_total",
			Help: "Successful asset reloads",
		}),
	}
}

// Registry is the registry served on /metrics
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// TurnFinished records one assistant turn
func (c *Collectors) TurnFinished(assistant, model string, failed bool, elapsed time.Duration, usage tokens.Usage) {
	c.turns.WithLabelValues(assistant, model, strconv.FormatBool(failed)).Inc()
	c.turnDuration.WithLabelValues(assistant).Observe(elapsed.Seconds())
	for bucket, n := range map[string]int{
		"prompt":  usage.Prompt,
		"history": usage.History,
		"input":   usage.Input,
		"output":  usage.Output,
		"tools":   usage.Tools,
	} {
		c.tokens.WithLabelValues(model, bucket).Add(float64(n))
	}
}

// SnippetFinished records one snippet run
func (c *Collectors) SnippetFinished(snippet string, failed bool, elapsed time.Duration) {
	c.snippets.WithLabelValues(snippet, strconv.FormatBool(failed)).Inc()
	c.snippetTime.WithLabelValues(snippet).Observe(elapsed.Seconds())
}

// IPCCommand matches ipc.Host.OnCommand
func (c *Collectors) IPCCommand(cmd ipc.Command, outcome string, elapsed time.Duration) {
	c.ipcCommands.WithLabelValues(string(cmd), outcome).Inc()
	c.ipcDuration.WithLabelValues(string(cmd)).Observe(elapsed.Seconds())
}

// AssetsLoaded records the size of a freshly loaded asset set
func (c *Collectors) AssetsLoaded(assistants, snippets int) {
	c.assetsLoaded.WithLabelValues("assistant").Set(float64(assistants))
	c.assetsLoaded.WithLabelValues("snippet").Set(float64(snippets))
	c.assetsReloads.Inc()
}
