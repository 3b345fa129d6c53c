package clypsalot

import (
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys shared across the core. Each component that owns counters
// registers the ones it uses against its own metricz.Registry; the keys
// live here so names stay consistent between producers and dashboards.
const (
	MetricObjectsCreated  = metricz.Key("clypsalot.objects.created")
	MetricObjectsFaulted  = metricz.Key("clypsalot.objects.faulted")
	MetricObjectsStopped  = metricz.Key("clypsalot.objects.stopped")
	MetricLinksCreated    = metricz.Key("clypsalot.links.created")
	MetricLinksDestroyed  = metricz.Key("clypsalot.links.destroyed")
	MetricLinkRollbacks   = metricz.Key("clypsalot.links.rollbacks")
	MetricPoolJobsPosted  = metricz.Key("clypsalot.pool.jobs.posted")
	MetricPoolJobsRun     = metricz.Key("clypsalot.pool.jobs.run")
	MetricPoolJobsFailed  = metricz.Key("clypsalot.pool.jobs.failed")
	MetricPoolQueueDepth  = metricz.Key("clypsalot.pool.queue.depth")
	MetricPoolJobDuration = metricz.Key("clypsalot.pool.job.duration.ms")
	MetricMessagesDrained = metricz.Key("clypsalot.messages.drained")
	MetricNetworkStops    = metricz.Key("clypsalot.network.stops")
)

// Span keys for the tracez traces the core emits around the operations
// that are expensive or hard to reason about from logs alone.
const (
	SpanObjectProcess     = tracez.Key("clypsalot.object.process")
	SpanLinkTransaction   = tracez.Key("clypsalot.port.link_transaction")
	SpanUnlinkTransaction = tracez.Key("clypsalot.port.unlink_transaction")
	SpanNetworkQuiescence = tracez.Key("clypsalot.network.quiescence")
	SpanPoolJob           = tracez.Key("clypsalot.pool.job")
)

// Tags attached to the spans above.
const (
	TagObjectID        = tracez.Tag("clypsalot.object.id")
	TagObjectKind      = tracez.Tag("clypsalot.object.kind")
	TagResult          = tracez.Tag("clypsalot.result")
	TagPortCount       = tracez.Tag("clypsalot.port_count")
	TagErr             = tracez.Tag("clypsalot.error")
	TagPoolJobDuration = tracez.Tag("clypsalot.pool.job.duration")
)

// Hook keys. These are the asynchronous, best-effort notifications meant
// for UI-style integrations (a log window, a property editor, a catalog
// browser) that want to know something happened without sitting in the
// synchronous critical path the Object event bus guarantees. Anything a
// caller needs delivered synchronously and in order belongs on the
// EventBus (see event.go), not here.
const (
	HookCatalogEntryAdded = hookz.Key("clypsalot.catalog.entry_added")
	HookPoolWorkerSpawned = hookz.Key("clypsalot.pool.worker_spawned")
	HookPoolSaturated     = hookz.Key("clypsalot.pool.saturated")
)

// CatalogEntryAddedEvent is emitted through hooks whenever a module
// import adds a new entry to either catalog.
type CatalogEntryAddedEvent struct {
	Catalog string // "port_type" or "object"
	Name    string
}

// PoolEvent is emitted through hooks when the worker pool's shape
// changes or saturates; it carries enough to drive a status widget.
type PoolEvent struct {
	Workers int
	Queued  int
}

// coreMetrics and coreTracer are the process-wide registry and tracer
// used by every component except WorkerPool: objects, link/unlink
// transactions, the message processor, the network supervisor's
// quiescence walk, and the catalogs. Each WorkerPool keeps a private
// metricz.Registry/tracez.Tracer instead.
var (
	coreMetrics = newCoreMetrics()
	coreTracer  = tracez.New()
)

func newCoreMetrics() *metricz.Registry {
	r := metricz.New()
	r.Counter(MetricObjectsCreated)
	r.Counter(MetricObjectsFaulted)
	r.Counter(MetricObjectsStopped)
	r.Counter(MetricLinksCreated)
	r.Counter(MetricLinksDestroyed)
	r.Counter(MetricLinkRollbacks)
	r.Counter(MetricNetworkStops)
	r.Counter(MetricMessagesDrained)
	return r
}
