// Package redist moves the items of a container held by M source ranks to
// N destination ranks of a communicator.
//
// Architecture:
//   - container: typed fields with split and merge policies, serialized with a payload codec
//   - decomp: strategies deciding which destination receives which item
//   - transport: point-to-point communicators (channel, Redis Streams, NATS, Kafka) and collectives
//   - Component: the pipeline running one redistribution per iteration
//
// Every iteration goes through the same phases on every rank:
//
//	source: compute global layout -> split -> send
//	dest:   learn inbound count   -> receive -> merge
//
// A rank may be both a source and a destination. Its own chunk then stays
// in-process (transit) unless WithTransit(false) is set.
//
// Basic example, four sources and two destinations in one process:
//
//	err := redist.RunRanks(ctx, 4, func(ctx context.Context, comm transport.Comm) error {
//	    c, err := redist.New(comm, redist.Range{First: 0, Count: 4}, redist.Range{First: 0, Count: 2}, decomp.NewCount())
//	    if err != nil {
//	        return err
//	    }
//	    defer c.Shutdown(ctx)
//
//	    data := container.New()
//	    data.Append("id", container.NewArray(ids, 1), container.Private, container.SplitDefault, container.MergeDefault)
//
//	    role := redist.RoleSource
//	    if c.IsDest() {
//	        role = redist.RoleBoth
//	    }
//	    if err := c.Process(ctx, data, role); err != nil {
//	        return err
//	    }
//	    return c.Flush(ctx)
//	})
//
// Component Options:
//   - WithCommMethod: CommCollective (counts reduced at the source root) or CommP2P (every source sends to every destination). Default CommCollective.
//   - WithMergeMethod: MergeStep (merge each chunk once the lower ranks are in) or MergeOnce (merge all chunks at the end). Default MergeStep. Chunks always fold in source rank order.
//   - WithTransit: keep a rank's own chunk in-process. Default true.
//   - WithPack: compress and checksum payloads.
//   - WithFatalHandler: callback for configuration and capability errors.
//   - WithTracing, WithMetrics: OpenTelemetry spans and counters. Default true.
//   - WithLogger: set logger for the component.
//
// Iterations:
// Process may be called several times before Flush, once per container.
// Flush waits for the pending sends and moves to the next data tag, so
// messages of consecutive iterations never mix.
//
// Errors:
// Configuration and capability errors are fatal for the redistribution:
// they are passed to the fatal handler before being returned, and the
// peers of the failing rank may block until their context is cancelled.
// Contract and count errors only fail the current iteration.
package redist
