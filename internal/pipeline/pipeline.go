// Package pipeline runs a complete conversion: discovery, parsing, normalization,
// splitting and materialization, followed by the dataset file, the run report and
// optional previews.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/yolo-dataset-tools/internal/annotation"
	"github.com/ironsheep/yolo-dataset-tools/internal/config"
	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	"github.com/ironsheep/yolo-dataset-tools/internal/imaging"
	"github.com/ironsheep/yolo-dataset-tools/internal/logging"
	"github.com/ironsheep/yolo-dataset-tools/internal/materialize"
	"github.com/ironsheep/yolo-dataset-tools/internal/split"
)

// Record is the normalized result for one pair. It is built once and not modified
// afterwards. Boxes keep source order.
type Record struct {
	Pair      discovery.Pair
	Boxes     []geometry.Box
	Oriented  []geometry.OrientedBox
	Malformed bool
}

// Pipeline holds the collaborators of a run.
type Pipeline struct {
	cfg     *config.Config
	format  annotation.Format
	parser  annotation.Parser
	classes *annotation.ClassMap
	store   *imaging.Store
	log     *zap.Logger
}

// New validates cfg and prepares a pipeline. Manifests are loaded here, so an
// unreadable manifest fails before any output exists.
func New(cfg *config.Config, store *imaging.Store, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	classes, err := cfg.ClassMap()
	if err != nil {
		return nil, err
	}
	format := cfg.AnnotationFormat()
	parser, err := annotation.New(format, cfg.ParserOptions())
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = imaging.NewStore()
	}
	return &Pipeline{
		cfg:     cfg,
		format:  format,
		parser:  parser,
		classes: classes,
		store:   store,
		log:     logging.OrNop(logger),
	}, nil
}

// Run is shorthand for New followed by Pipeline.Run with a fresh image store.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Report, error) {
	p, err := New(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// Discover pairs the configured sources without converting anything.
func (p *Pipeline) Discover() (*discovery.Result, error) {
	opts := p.cfg.DiscoveryOptions()
	var (
		result *discovery.Result
		err    error
	)
	switch {
	case p.format == annotation.FormatMOT:
		result, err = discovery.MOTSequences(p.cfg.Source.Images, opts)
	case p.format.IsManifest():
		m, ok := p.parser.(annotation.Manifest)
		if !ok {
			return nil, fmt.Errorf("format %s has no manifest index", p.format)
		}
		result, err = discovery.MatchManifest(p.cfg.Source.Images, m.Keys(), opts)
	default:
		result, err = discovery.MatchStems(p.cfg.Source.Images, p.cfg.Source.Annotations, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	return result, nil
}

// ManifestProblems returns manifest entries that could not be attributed to an image.
func (p *Pipeline) ManifestProblems() []error {
	if m, ok := p.parser.(annotation.Manifest); ok {
		return m.Problems()
	}
	return nil
}

// Run performs the conversion and writes the dataset under the target root.
//
// Per-pair and per-box failures are counted in the report. The returned error is
// reserved for setup failures and cancellation; in the latter case the partial report
// is returned as well.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	log := p.log.With(zap.String("run_id", runID))
	report := newReport(runID, string(p.format))

	result, err := p.Discover()
	if err != nil {
		return nil, err
	}
	report.Discovery = result.Summary()
	for _, img := range result.ImagesWithoutAnnotation {
		log.Debug("image without annotation", zap.String("image", img))
	}
	for _, ann := range result.AnnotationsWithoutImage {
		log.Debug("annotation without image", zap.String("annotation", ann))
	}
	problems := p.ManifestProblems()
	for _, perr := range problems {
		log.Warn("manifest entry skipped", zap.Error(perr))
	}
	log.Info("discovery finished",
		zap.Int("pairs", len(result.Pairs)),
		zap.Int("images_without_annotation", len(result.ImagesWithoutAnnotation)),
		zap.Int("annotations_without_image", len(result.AnnotationsWithoutImage)))

	m, err := materialize.New(p.store, materialize.Options{
		Root:    p.cfg.Target.Root,
		Mode:    materialize.Mode(p.cfg.Target.Mode),
		Workers: p.cfg.Workers,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureLayout(); err != nil {
		return nil, err
	}

	records, stats, err := p.convertAll(ctx, log, result.Pairs)
	report.merge(stats, p.classes.Names())
	report.MalformedObjects += len(problems)
	if err != nil {
		return report, err
	}

	assignment, err := p.split(records, report)
	if err != nil {
		return report, err
	}

	items, collisions := p.items(assignment, log)
	for _, s := range split.All {
		counts, err := m.Materialize(ctx, s, items.Get(s))
		counts.Errors += collisions[s]
		report.Collisions += collisions[s]
		report.Splits[s] = counts
		if err != nil {
			return report, err
		}
	}

	if p.cfg.Target.DatasetYAML != "" {
		if err := m.WriteDatasetYAML(p.rootPath(p.cfg.Target.DatasetYAML), p.datasetNames(report)); err != nil {
			log.Error("dataset file not written", zap.Error(err))
		}
	}

	if p.cfg.Preview.Count > 0 {
		report.Previews = p.previews(m, items, log)
	}

	report.FinishedAt = time.Now().UTC()
	if err := report.Write(filepath.Join(p.cfg.Target.Root, ReportFile)); err != nil {
		log.Error("report not written", zap.Error(err))
	}
	report.Log(log)
	return report, nil
}

// convertAll parses and normalizes every pair on a bounded worker pool. Results are
// stored by index, so the output order matches the discovery order.
func (p *Pipeline) convertAll(ctx context.Context, log *zap.Logger, pairs []discovery.Pair) ([]Record, []recordStats, error) {
	records := make([]Record, len(pairs))
	stats := make([]recordStats, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i], stats[i] = p.convert(log, pairs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	// Wait cancels gctx; only the caller's ctx tells a cancelled run apart.
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	return records, stats, nil
}

// convert produces the record of one pair. It never fails: a malformed source yields
// an empty record and every dropped box is counted by reason.
func (p *Pipeline) convert(log *zap.Logger, pair discovery.Pair) (Record, recordStats) {
	rec := Record{Pair: pair}
	var st recordStats

	ann, err := p.parser.Parse(pair)
	if err != nil {
		if !errors.Is(err, annotation.ErrMalformedSource) {
			err = fmt.Errorf("%w: %v", annotation.ErrMalformedSource, err)
		}
		log.Warn("malformed annotation source",
			zap.String("image", pair.ImagePath),
			zap.String("annotation", pair.Annotation),
			zap.Error(err))
		rec.Malformed = true
		st.malformed = true
		return rec, st
	}
	st.converted = true
	st.problems = len(ann.Problems)
	for _, perr := range ann.Problems {
		log.Debug("annotation object skipped", zap.String("annotation", pair.Annotation), zap.Error(perr))
	}

	w, h, ok := p.imageSize(log, pair, ann)
	if !ok {
		st.dimError = true
	}
	statW, statH := w, h
	if p.format == annotation.FormatYOLO {
		if d, err := p.store.Dimensions(pair.ImagePath); err == nil {
			statW, statH = float64(d.Width), float64(d.Height)
		}
	}

	for _, obj := range ann.Objects {
		classID, err := p.classes.Map(obj.Class)
		if err != nil {
			log.Debug("box dropped", zap.String("image", pair.ImagePath), zap.String("reason", ReasonUnknownClass),
				zap.String("class", obj.Class.String()))
			st.drop(ReasonUnknownClass)
			continue
		}
		n, err := geometry.Normalize(w, h, obj.Box)
		if err != nil {
			reason := geometry.Reason(err)
			log.Debug("box dropped", zap.String("image", pair.ImagePath), zap.String("reason", reason), zap.Error(err))
			st.drop(reason)
			continue
		}
		st.boxes++
		if obj.Difficult {
			st.markDifficult(classID)
		}
		if n.Oriented {
			rec.Oriented = append(rec.Oriented, geometry.OrientedBox{ClassID: classID, Quad: n.Quad})
			st.area(classID, quadArea(n.Quad)*statW*statH)
		} else {
			rec.Boxes = append(rec.Boxes, geometry.Box{ClassID: classID, Center: n.Center})
			st.area(classID, n.Center.Area(statW, statH))
		}
	}
	return rec, st
}

// imageSize resolves the image size: the annotation's own size first, then the
// configured fixed size, then the image header. On failure it returns 0x0, which the
// geometry layer rejects box by box.
func (p *Pipeline) imageSize(log *zap.Logger, pair discovery.Pair, ann *annotation.Annotation) (float64, float64, bool) {
	if ann.HasSize {
		return ann.Width, ann.Height, true
	}
	if w, h, ok := p.cfg.FixedSize(); ok {
		return w, h, true
	}
	d, err := p.store.Dimensions(pair.ImagePath)
	if err != nil {
		log.Warn("image size unavailable", zap.String("image", pair.ImagePath), zap.Error(err))
		return 0, 0, false
	}
	return float64(d.Width), float64(d.Height), true
}

func (p *Pipeline) split(records []Record, report *Report) (split.Assignment[Record], error) {
	if !p.cfg.Split.Predefined {
		return split.Partition(records, p.cfg.Ratios(), p.cfg.Seed())
	}

	lists := make(map[split.Split][]string)
	for name, path := range p.cfg.Source.SplitLists {
		ids, err := discovery.LoadSplitList(path)
		if err != nil {
			return split.Assignment[Record]{}, err
		}
		lists[split.Split(name)] = ids
	}
	a, unlisted := split.ByList(records, func(r Record) string { return r.Pair.Stem }, lists)
	report.Unlisted = len(unlisted)
	for _, r := range unlisted {
		p.log.Debug("pair in no split list", zap.String("image", r.Pair.ImagePath))
	}
	return a, nil
}

// items turns records into materialization items. Sequential naming numbers the whole
// dataset in train, val, test order; MOT always uses it because frame names repeat
// across sequences.
//
// Items whose image name or label stem is already taken within their split, ignoring
// case, are dropped and counted per split.
func (p *Pipeline) items(a split.Assignment[Record], log *zap.Logger) (split.Assignment[materialize.Item], map[split.Split]int) {
	var all []materialize.Item
	for _, s := range split.All {
		for _, r := range a.Get(s) {
			all = append(all, materialize.Item{
				ImagePath: r.Pair.ImagePath,
				Name:      r.Pair.Name,
				Stem:      r.Pair.Stem,
				Boxes:     r.Boxes,
				Oriented:  r.Oriented,
			})
		}
	}
	if p.sequential() {
		all = materialize.Sequential(all)
	}

	nTrain, nVal := len(a.Train), len(a.Val)
	named := split.Assignment[materialize.Item]{
		Train: all[:nTrain],
		Val:   all[nTrain : nTrain+nVal],
		Test:  all[nTrain+nVal:],
	}
	var out split.Assignment[materialize.Item]
	collisions := make(map[split.Split]int)
	for _, s := range split.All {
		names := make(map[string]string)
		stems := make(map[string]string)
		var kept []materialize.Item
		for _, it := range named.Get(s) {
			name, stem := strings.ToLower(it.Name), strings.ToLower(it.Stem)
			prev, taken := names[name]
			if !taken {
				prev, taken = stems[stem]
			}
			if taken {
				log.Warn("target name collision",
					zap.String("split", string(s)),
					zap.String("image", it.ImagePath),
					zap.String("kept", prev),
					zap.String("name", it.Name))
				collisions[s]++
				continue
			}
			names[name] = it.ImagePath
			stems[stem] = it.ImagePath
			kept = append(kept, it)
		}
		switch s {
		case split.Train:
			out.Train = kept
		case split.Val:
			out.Val = kept
		case split.Test:
			out.Test = kept
		}
	}
	return out, collisions
}

func (p *Pipeline) sequential() bool {
	return p.cfg.Target.Naming == config.NamingSequential || p.format == annotation.FormatMOT
}

// datasetNames returns the class names for the dataset file. Ids that were emitted but
// have no name in the class map get a placeholder.
func (p *Pipeline) datasetNames(report *Report) map[int]string {
	names := p.classes.Names()
	for _, id := range p.classes.TargetIDs() {
		if _, ok := names[id]; !ok {
			names[id] = fmt.Sprintf("class_%d", id)
		}
	}
	for _, c := range report.Classes {
		if _, ok := names[c.ID]; !ok {
			names[c.ID] = fmt.Sprintf("class_%d", c.ID)
		}
	}
	return names
}

// previews renders the first Preview.Count materialized images in split order.
func (p *Pipeline) previews(m *materialize.Materializer, items split.Assignment[materialize.Item], log *zap.Logger) int {
	dir := p.rootPath(p.cfg.Preview.Dir)
	made := 0
	for _, s := range split.All {
		for _, it := range items.Get(s) {
			if made >= p.cfg.Preview.Count {
				return made
			}
			img := filepath.Join(m.ImageDir(s), it.Name)
			out := filepath.Join(dir, string(s)+"_"+it.Stem+".jpg")
			if err := materialize.Preview(img, m.LabelPath(s, it.Stem), out, imaging.PreviewOptions{}); err != nil {
				log.Warn("preview failed", zap.String("image", img), zap.Error(err))
				continue
			}
			made++
		}
	}
	return made
}

func (p *Pipeline) rootPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.cfg.Target.Root, path)
}
