// Command kektordd inspects and combines tensor snapshots.
//
//	kektordd random -shape 2,3,2 -o a.kdd
//	kektordd random -shape 3,2,2 -o b.kdd
//	kektordd contract -pairs 1:0,2:1 -o c.kdd a.kdd b.kdd
//	kektordd info c.kdd
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
	"github.com/sanonone/kektordd/pkg/engine"
	"github.com/sanonone/kektordd/pkg/persistence"
)

func main() {
	os.Exit(execute())
}

// execute runs the command line and returns the exit code. Deferred cleanup
// runs before the process exits.
func execute() int {
	configPath := flag.String("config", "", "YAML options file")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9091) and wait for Ctrl+C")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts, err := engine.LoadOptions(*configPath)
	if err != nil {
		log.Fatalf("Could not load options: %v", err)
	}
	opts.Logger = logger

	eng, err := engine.Open(opts)
	if err != nil {
		log.Fatalf("Could not open engine: %v", err)
	}
	defer eng.Close()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if err := run(eng, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "kektordd:", err)
		return 1
	}

	if *metricsAddr != "" {
		shutdownChan := make(chan os.Signal, 1)
		signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
		<-shutdownChan
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: kektordd [flags] <command> [args]

Commands:
  random   -shape D1,D2,... [-parallel N] [-seed S] -o OUT
  info     FILE
  contract -pairs A:B,... [-mode outer|shared] -o OUT FILE_A FILE_B
  trace    -pairs I:J,... -o OUT FILE

Flags:
`)
	flag.PrintDefaults()
}

func run(eng *engine.Engine, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "random":
		return cmdRandom(eng, args[1:])
	case "info":
		return cmdInfo(eng, args[1:])
	case "contract":
		return cmdContract(eng, args[1:])
	case "trace":
		return cmdTrace(eng, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdRandom(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("random", flag.ExitOnError)
	shapeFlag := fs.String("shape", "", "index dimensions, comma separated")
	parallel := fs.Int("parallel", 0, "number of trailing dimensions forming the batch shape")
	seed := fs.Int64("seed", 1, "random seed")
	out := fs.String("o", "", "output snapshot")
	_ = fs.Parse(args)
	if *out == "" {
		return errors.New("random: -o is required")
	}

	shape, err := parseInts(*shapeFlag)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(*seed))
	data := make([]complex128, dense.Shape(shape).NumElements())
	for i := range data {
		data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	arr, err := dense.New(shape, data)
	if err != nil {
		return err
	}

	if *parallel == 0 {
		d, err := eng.FromArray(arr)
		if err != nil {
			return err
		}
		defer d.Release()
		return engine.Save(d, *out)
	}
	d, err := eng.FromBatchArray(arr, *parallel)
	if err != nil {
		return err
	}
	defer d.Release()
	return engine.Save(d, *out)
}

func cmdInfo(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("info: expected one file")
	}
	s, err := persistence.ReadFile(args[0])
	if err != nil {
		return err
	}
	h := s.Header
	fmt.Printf("kind:      %s\n", h.Kind)
	fmt.Printf("shape:     %v\n", h.Shape)
	fmt.Printf("parallel:  %v\n", h.Parallel)
	fmt.Printf("precision: %s\n", h.Precision)
	fmt.Printf("nodes:     %d\n", h.Nodes)
	fmt.Printf("elements:  %d\n", dense.Shape(h.Shape).NumElements()*dense.Shape(h.Parallel).NumElements())
	return nil
}

// loaded is a diagram of either kind read from a snapshot.
type loaded struct {
	scalar *engine.ScalarDiagram
	batch  *engine.BatchDiagram
}

func (l loaded) release() {
	if l.scalar != nil {
		l.scalar.Release()
	}
	if l.batch != nil {
		l.batch.Release()
	}
}

func load(eng *engine.Engine, path string) (loaded, error) {
	s, err := persistence.ReadFile(path)
	if err != nil {
		return loaded{}, err
	}
	if s.Header.Kind == "batch" {
		d, err := eng.LoadBatch(path)
		return loaded{batch: d}, err
	}
	d, err := eng.LoadScalar(path)
	return loaded{scalar: d}, err
}

func cmdContract(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("contract", flag.ExitOnError)
	pairsFlag := fs.String("pairs", "", "contracted index pairs A:B, comma separated")
	modeFlag := fs.String("mode", "outer", "combination of parallel dimensions: outer or shared")
	out := fs.String("o", "", "output snapshot")
	_ = fs.Parse(args)
	if fs.NArg() != 2 || *out == "" {
		return errors.New("contract: expected -o OUT and two files")
	}
	pairs, err := parsePairs(*pairsFlag)
	if err != nil {
		return err
	}
	mode := weight.Outer
	if *modeFlag == "shared" {
		mode = weight.Shared
	}

	a, err := load(eng, fs.Arg(0))
	if err != nil {
		return err
	}
	defer a.release()
	b, err := load(eng, fs.Arg(1))
	if err != nil {
		return err
	}
	defer b.release()

	switch {
	case a.scalar != nil && b.scalar != nil:
		r, err := eng.ContractScalar(a.scalar, b.scalar, pairs, nil)
		if err != nil {
			return err
		}
		defer r.Release()
		return engine.Save(r, *out)
	case a.scalar != nil:
		r, err := eng.ContractScalarBatch(a.scalar, b.batch, pairs, nil, mode)
		if err != nil {
			return err
		}
		defer r.Release()
		return engine.Save(r, *out)
	case b.scalar != nil:
		r, err := eng.ContractBatchScalar(a.batch, b.scalar, pairs, nil, mode)
		if err != nil {
			return err
		}
		defer r.Release()
		return engine.Save(r, *out)
	default:
		r, err := eng.ContractBatch(a.batch, b.batch, pairs, nil, mode)
		if err != nil {
			return err
		}
		defer r.Release()
		return engine.Save(r, *out)
	}
}

func cmdTrace(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	pairsFlag := fs.String("pairs", "", "traced index pairs I:J, comma separated")
	out := fs.String("o", "", "output snapshot")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *out == "" {
		return errors.New("trace: expected -o OUT and one file")
	}
	pairs, err := parsePairs(*pairsFlag)
	if err != nil {
		return err
	}
	x, err := load(eng, fs.Arg(0))
	if err != nil {
		return err
	}
	defer x.release()

	if x.scalar != nil {
		r, err := engine.Trace(x.scalar, pairs)
		if err != nil {
			return err
		}
		defer r.Release()
		return engine.Save(r, *out)
	}
	r, err := engine.Trace(x.batch, pairs)
	if err != nil {
		return err
	}
	defer r.Release()
	return engine.Save(r, *out)
}

func parseInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out[i] = v
	}
	return out, nil
}

func parsePairs(s string) ([]dd.IndexPair, error) {
	if s == "" {
		return nil, nil
	}
	var pairs []dd.IndexPair
	for _, p := range strings.Split(s, ",") {
		a, b, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q, want I:J", p)
		}
		i, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid pair %q: %w", p, err)
		}
		j, err := strconv.Atoi(b)
		if err != nil {
			return nil, fmt.Errorf("invalid pair %q: %w", p, err)
		}
		pairs = append(pairs, dd.IndexPair{First: i, Second: j})
	}
	return pairs, nil
}
