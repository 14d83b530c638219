package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"

	"github.com/rbaliyan/redist"
	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/payload"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/channel"
	"github.com/rbaliyan/redist/transport/codec"
)

// domainSize is the edge of the cubic domain the generated items live in.
const domainSize = 100

type runConfig struct {
	Sources    int
	Dests      int
	Overlap    bool
	Items      int
	Iterations int
	Strategy   string
	Comm       string
	Merge      string
	Transit    bool
	Codec      string
	Payload    string
	Pack       string
	Checksum   bool
	Timeout    time.Duration
	LogLevel   string
}

func newRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := &runConfig{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Redistribute generated items between in-process ranks.",
		Long: `run generates --items items on every source rank, redistributes them with
the selected strategy and prints the items and fields every destination
ends up with.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg.LogLevel, stderr)
			if err != nil {
				return err
			}
			counts, err := runRedistribution(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return printCounts(stdout, counts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Sources, "sources", 4, "Number of source ranks.")
	flags.IntVar(&cfg.Dests, "dests", 3, "Number of destination ranks.")
	flags.BoolVar(&cfg.Overlap, "overlap", false, "Run destinations on the first ranks, shared with the sources.")
	flags.IntVar(&cfg.Items, "items", 1000, "Items generated on every source.")
	flags.IntVar(&cfg.Iterations, "iterations", 1, "Number of redistributions to run.")
	flags.StringVar(&cfg.Strategy, "strategy", "count", "Decomposition strategy: "+strings.Join(decomp.Names(), ", ")+".")
	flags.StringVar(&cfg.Comm, "comm", redist.CommCollective.String(), "How destinations learn their message count: collective or p2p.")
	flags.StringVar(&cfg.Merge, "merge", redist.MergeStep.String(), "When received chunks are merged: step or once.")
	flags.BoolVar(&cfg.Transit, "transit", true, "Keep a rank's own chunk in-process.")
	flags.StringVar(&cfg.Codec, "codec", "", "Envelope codec messages go through: msgpack, json or proto. Empty hands messages over as is.")
	flags.StringVar(&cfg.Payload, "payload", "msgpack", "Container payload codec: msgpack, json or bson.")
	flags.StringVar(&cfg.Pack, "pack", "", "Payload compression: none, lz4 or zstd. Empty disables packing.")
	flags.BoolVar(&cfg.Checksum, "checksum", false, "Checksum packed payloads.")
	flags.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Give up after this long.")
	flags.StringVar(&cfg.LogLevel, "log-level", "warn", "Log level: debug, info, warn or error.")
	return cmd
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// destCount is what one destination holds after the last iteration.
type destCount struct {
	Rank   int
	Items  int
	Fields []string
}

// ranges places the ranks: sources first, then destinations unless they
// overlap the sources.
func (cfg *runConfig) ranges() (sources, dests redist.Range, size int) {
	sources = redist.Range{First: 0, Count: cfg.Sources}
	dests = redist.Range{First: cfg.Sources, Count: cfg.Dests}
	size = cfg.Sources + cfg.Dests
	if cfg.Overlap {
		dests.First = 0
		size = max(cfg.Sources, cfg.Dests)
	}
	return sources, dests, size
}

// options converts the flags into component options.
func (cfg *runConfig) options(logger *slog.Logger) ([]redist.Option, error) {
	comm, err := redist.ParseCommMethod(cfg.Comm)
	if err != nil {
		return nil, err
	}
	merge, err := redist.ParseMergeMethod(cfg.Merge)
	if err != nil {
		return nil, err
	}
	opts := []redist.Option{
		redist.WithCommMethod(comm),
		redist.WithMergeMethod(merge),
		redist.WithTransit(cfg.Transit),
		redist.WithLogger(logger),
		redist.WithFatalHandler(func(err error) {
			logger.Error("redistribution cannot proceed", "error", err)
		}),
	}

	if cfg.Pack != "" {
		var c payload.Compression
		switch strings.ToLower(cfg.Pack) {
		case "none":
			c = payload.NoCompression
		case "lz4":
			c = payload.LZ4
		case "zstd":
			c = payload.Zstd
		default:
			return nil, fmt.Errorf("unknown compression %q", cfg.Pack)
		}
		opts = append(opts, redist.WithPack(payload.PackOptions{Compression: c, Checksum: cfg.Checksum}))
	}
	return opts, nil
}

func (cfg *runConfig) worldOptions(logger *slog.Logger) ([]channel.Option, error) {
	opts := []channel.Option{channel.WithLogger(logger)}
	if cfg.Codec == "" {
		return opts, nil
	}
	c, ok := codec.ByName(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	return append(opts, channel.WithCodec(c)), nil
}

func runRedistribution(ctx context.Context, cfg *runConfig, logger *slog.Logger) ([]destCount, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Sources < 1 || cfg.Dests < 1 {
		return nil, fmt.Errorf("need at least one source and one destination, got %d and %d", cfg.Sources, cfg.Dests)
	}
	if cfg.Items < 0 || cfg.Iterations < 1 {
		return nil, fmt.Errorf("invalid items %d or iterations %d", cfg.Items, cfg.Iterations)
	}
	opts, err := cfg.options(logger)
	if err != nil {
		return nil, err
	}
	worldOpts, err := cfg.worldOptions(logger)
	if err != nil {
		return nil, err
	}
	pc, ok := payload.Get(cfg.Payload)
	if !ok {
		return nil, fmt.Errorf("unknown payload codec %q", cfg.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	sources, dests, size := cfg.ranges()
	var mu sync.Mutex
	var counts []destCount

	err = redist.RunRanks(ctx, size, func(ctx context.Context, comm transport.Comm) error {
		strategy, err := decomp.New(cfg.Strategy)
		if err != nil {
			return err
		}
		c, err := redist.New(comm, sources, dests, strategy, opts...)
		if err != nil {
			return err
		}
		defer c.Shutdown(ctx)

		role := c.Roles()
		if role == 0 {
			return nil
		}

		var data *container.Container
		for i := 0; i < cfg.Iterations; i++ {
			data = container.New(container.WithCodec(pc))
			if c.IsSource() {
				if data, err = generate(pc, comm.Rank(), cfg.Items, strategy.Name()); err != nil {
					return err
				}
			}
			if err := c.Process(ctx, data, role); err != nil {
				return fmt.Errorf("rank %d: %w", comm.Rank(), err)
			}
			if err := c.Flush(ctx); err != nil {
				return fmt.Errorf("rank %d: %w", comm.Rank(), err)
			}
		}

		if c.IsDest() {
			mu.Lock()
			counts = append(counts, destCount{Rank: comm.Rank(), Items: data.Len(), Fields: data.Names()})
			mu.Unlock()
		}
		return nil
	}, worldOpts...)
	if err != nil {
		return nil, err
	}

	sort.Slice(counts, func(i, j int) bool { return counts[i].Rank < counts[j].Rank })
	return counts, nil
}

// generate builds the container of a source: global ids, positions derived
// from the ids and, for the block strategy, the domain description.
func generate(pc payload.Codec, rank, n int, strategy string) (*container.Container, error) {
	ids := make([]int64, n)
	pos := make([]float32, 3*n)
	var buf [8]byte
	for i := range ids {
		ids[i] = int64(rank*n + i)
		binary.LittleEndian.PutUint64(buf[:], uint64(ids[i]))
		h := xxhash.Sum64(buf[:])
		for k := 0; k < 3; k++ {
			pos[3*i+k] = float32(h>>(16*k)&0xffff) / 0x10000 * domainSize
		}
	}

	c := container.New(container.WithCodec(pc))
	if err := c.Append("id", container.NewArray(ids, 1), container.Private, container.SplitDefault, container.MergeDefault); err != nil {
		return nil, err
	}
	if err := c.Append("pos", container.NewArray(pos, 3), container.Private, container.SplitDefault, container.MergeDefault, container.Pos); err != nil {
		return nil, err
	}
	if strategy == "block" {
		domain := container.Block{
			Gridspace:  1,
			GlobalBBox: []float32{0, 0, 0, domainSize, domainSize, domainSize},
		}
		if err := c.Append(decomp.DefaultBlockField, container.NewBlockField(domain), container.Shared, container.SplitDefault, container.MergeDefault); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func printCounts(w io.Writer, counts []destCount) error {
	total := 0
	for _, c := range counts {
		total += c.Items
		if _, err := fmt.Fprintf(w, "rank %d: %d items [%s]\n", c.Rank, c.Items, strings.Join(c.Fields, " ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "total: %d items on %d destinations\n", total, len(counts))
	return err
}
