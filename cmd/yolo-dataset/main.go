package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ironsheep/yolo-dataset-tools/internal/config"
	"github.com/ironsheep/yolo-dataset-tools/internal/imaging"
	"github.com/ironsheep/yolo-dataset-tools/internal/logging"
	"github.com/ironsheep/yolo-dataset-tools/internal/materialize"
	"github.com/ironsheep/yolo-dataset-tools/internal/pipeline"
	"github.com/ironsheep/yolo-dataset-tools/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const usage = `yolo-dataset - convert detection corpora into YOLO datasets

Usage: yolo-dataset <command> [options]

Commands:
  convert    Convert a corpus described by a config file
  discover   Pair images and annotations and print the counts
  preview    Draw a label file over its image
  serve      Run the MCP server on stdin/stdout
  version    Print version information
  help       Print this help message

Run 'yolo-dataset <command> -h' for the options of a command.

Environment variables:
  YOLO_DATASET_<KEY>             Override a config key, e.g. YOLO_DATASET_TARGET_ROOT
  YOLO_DATASET_LOG_LEVEL=debug   Log level for serve
`

// errUsage marks errors already explained by the flag package.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "yolo-dataset: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errUsage
	}

	switch args[0] {
	case "convert":
		return runConvert(ctx, args[1:], stdout)
	case "discover":
		return runDiscover(args[1:], stdout)
	case "preview":
		return runPreview(args[1:], stdout)
	case "serve":
		return runServe(ctx, args[1:])
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "yolo-dataset %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return nil
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// listFlag collects a repeatable or comma-separated path flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

// datasetFlags are shared by convert and discover.
type datasetFlags struct {
	config      string
	format      string
	images      listFlag
	annotations listFlag
	manifests   listFlag
	root        string
}

func newDatasetFlags(name string) (*flag.FlagSet, *datasetFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	d := &datasetFlags{}
	fs.StringVar(&d.config, "config", "", "config YAML file (required)")
	fs.StringVar(&d.format, "format", "", "override the source annotation format")
	fs.Var(&d.images, "images", "override image directories (repeatable, comma-separated)")
	fs.Var(&d.annotations, "annotations", "override annotation directories")
	fs.Var(&d.manifests, "manifests", "override manifest files")
	fs.StringVar(&d.root, "root", "", "override the target dataset root")
	return fs, d
}

// load parses args into d and returns the configuration with overrides applied.
func (d *datasetFlags) load(fs *flag.FlagSet, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if d.config == "" {
		fs.Usage()
		return nil, fmt.Errorf("-config is required")
	}
	cfg, err := config.Load(d.config)
	if err != nil {
		return nil, err
	}
	config.Overrides{
		Format:      d.format,
		Images:      d.images,
		Annotations: d.annotations,
		Manifests:   d.manifests,
		Root:        d.root,
	}.Apply(cfg)
	return cfg, nil
}

func runConvert(ctx context.Context, args []string, stdout io.Writer) error {
	fs, d := newDatasetFlags("convert")
	cfg, err := d.load(fs, args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	report, err := pipeline.Run(ctx, cfg, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "converted %d of %d pairs into %s: %d boxes, %d dropped\n",
		report.Converted, report.Discovery.PairsFound, cfg.Target.Root, report.BoxesConverted, report.Dropped())
	return nil
}

func runDiscover(args []string, stdout io.Writer) error {
	fs, d := newDatasetFlags("discover")
	cfg, err := d.load(fs, args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := pipeline.New(cfg, nil, logger)
	if err != nil {
		return err
	}
	result, err := p.Discover()
	if err != nil {
		return err
	}
	s := result.Summary()
	fmt.Fprintf(stdout, "pairs found:               %d\n", s.PairsFound)
	fmt.Fprintf(stdout, "images without annotation: %d\n", s.ImagesWithoutAnnotation)
	fmt.Fprintf(stdout, "annotations without image: %d\n", s.AnnotationsWithoutImage)
	fmt.Fprintf(stdout, "duplicate stems:           %d\n", s.DuplicateStems)
	if n := len(p.ManifestProblems()); n > 0 {
		fmt.Fprintf(stdout, "manifest problems:         %d\n", n)
	}
	return nil
}

func runPreview(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	img := fs.String("image", "", "image file (required)")
	labels := fs.String("labels", "", "YOLO label file (required)")
	out := fs.String("out", "", "output file, .jpg or .png (required)")
	maxSize := fs.Int("max-size", imaging.DefaultPreviewSize, "longest side of the preview")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *img == "" || *labels == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("-image, -labels and -out are required")
	}

	if err := materialize.Preview(*img, *labels, *out, imaging.PreviewOptions{MaxSize: *maxSize}); err != nil {
		return err
	}
	fmt.Fprintln(stdout, *out)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	mode := fs.String("log-mode", "debug", "log format: release (JSON) or debug (console)")
	level := fs.String("log-level", os.Getenv(config.EnvPrefix+"_LOG_LEVEL"), "log level")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	// Stdout carries the protocol; the logger writes to stderr.
	logger, err := logging.New(*mode, *level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("starting MCP server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit))

	srv := server.New(server.Options{Logger: logger, Version: Version})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
