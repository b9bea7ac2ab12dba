package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/refmirror/internal/config"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store/memory"
	"github.com/zeusync/refmirror/internal/remote/ws"
	"github.com/zeusync/refmirror/internal/server"
)

// ServerSet builds a Server from a config.Config.
var ServerSet = wire.NewSet(
	ProvideLog,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	metrics.New,
	ProvideStore,
	ProvideWSServer,
	server.NewServer,
)

// ProvideLog builds the process logger at the configured level.
func ProvideLog(cfg config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

// ProvideRegistry returns a registry carrying the Go runtime and process
// collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideStore(logger log.Log, m *metrics.Metrics) *memory.Store {
	return memory.New(memory.WithLogger(logger), memory.WithMetrics(m))
}

func ProvideWSServer(cfg config.Config, st *memory.Store, logger log.Log, m *metrics.Metrics) *ws.Server {
	return ws.NewServer(st.Root(),
		ws.WithServerLogger(logger),
		ws.WithServerMetrics(m),
		ws.WithBufferSizes(cfg.Server.ReadBufferSize, cfg.Server.WriteBufferSize),
		ws.WithSessionSendBuffer(cfg.Server.SendBuffer),
	)
}
