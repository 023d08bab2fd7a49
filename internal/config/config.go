// Package config loads the conversion settings from a YAML file.
//
// Scalar and list keys can be overridden from the environment with the YOLO_DATASET_
// prefix and dots replaced by underscores, e.g. YOLO_DATASET_TARGET_ROOT. Lists are
// comma-separated. classes.map and source.split_lists are read from the file only.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/ironsheep/yolo-dataset-tools/internal/annotation"
	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/materialize"
	"github.com/ironsheep/yolo-dataset-tools/internal/split"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "YOLO_DATASET"

// Naming strategies for output files.
const (
	NamingKeep       = "keep"
	NamingSequential = "sequential"
)

// Config holds the settings of one conversion run.
type Config struct {
	Format  string        `mapstructure:"format" json:"format"`
	Workers int           `mapstructure:"workers" json:"workers"`
	Source  SourceConfig  `mapstructure:"source" json:"source"`
	Target  TargetConfig  `mapstructure:"target" json:"target"`
	Split   SplitConfig   `mapstructure:"split" json:"split"`
	Classes ClassesConfig `mapstructure:"classes" json:"classes"`
	CSV     CSVConfig     `mapstructure:"csv" json:"csv"`
	MOT     MOTConfig     `mapstructure:"mot" json:"mot"`
	Preview PreviewConfig `mapstructure:"preview" json:"preview"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// SourceConfig locates the input corpus.
type SourceConfig struct {
	// Images are image directories, or sequence roots for the mot format.
	Images []string `mapstructure:"images" json:"images"`

	// Annotations are annotation directories for per-image formats.
	Annotations []string `mapstructure:"annotations" json:"annotations"`

	// Manifests are manifest files for the json and csv formats.
	Manifests []string `mapstructure:"manifests" json:"manifests"`

	ImageExtensions []string `mapstructure:"image_extensions" json:"image_extensions"`

	// AnnotationExtension overrides the format's default annotation extension.
	AnnotationExtension string `mapstructure:"annotation_extension" json:"annotation_extension"`

	// ImageWidth and ImageHeight fix the image size for formats that carry none.
	// Zero means the size is read from each image.
	ImageWidth  float64 `mapstructure:"image_width" json:"image_width"`
	ImageHeight float64 `mapstructure:"image_height" json:"image_height"`

	// SplitLists maps train, val and test to VOC ImageSets list files.
	SplitLists map[string]string `mapstructure:"split_lists" json:"split_lists"`
}

// TargetConfig describes the output dataset.
type TargetConfig struct {
	Root        string `mapstructure:"root" json:"root"`
	Mode        string `mapstructure:"mode" json:"mode"`
	// Naming is ignored for MOT, whose output is always numbered.
	Naming      string `mapstructure:"naming" json:"naming"`
	DatasetYAML string `mapstructure:"dataset_yaml" json:"dataset_yaml"`
}

// SplitConfig holds the partition settings.
type SplitConfig struct {
	Train      float64 `mapstructure:"train" json:"train"`
	Val        float64 `mapstructure:"val" json:"val"`
	Test       float64 `mapstructure:"test" json:"test"`
	Shuffle    bool    `mapstructure:"shuffle" json:"shuffle"`
	Seed       int64   `mapstructure:"seed" json:"seed"`
	Predefined bool    `mapstructure:"predefined" json:"predefined"`
}

// ClassesConfig is the class table. Entries are a list because viper lower-cases map
// keys and class names are case sensitive.
type ClassesConfig struct {
	Map              []annotation.ClassEntry `mapstructure:"map" json:"map"`
	FallbackIDOffset int                     `mapstructure:"fallback_id_offset" json:"fallback_id_offset"`
	PassthroughIDs   bool                    `mapstructure:"passthrough_ids" json:"passthrough_ids"`
}

// CSVConfig describes CSV manifest columns.
type CSVConfig struct {
	Columns []string `mapstructure:"columns" json:"columns"`
	Header  bool     `mapstructure:"header" json:"header"`
}

// MOTConfig holds the MOT detection class.
type MOTConfig struct {
	ClassID int `mapstructure:"class_id" json:"class_id"`
}

// PreviewConfig controls preview rendering after a run.
type PreviewConfig struct {
	Count int    `mapstructure:"count" json:"count"`
	Dir   string `mapstructure:"dir" json:"dir"`
}

// LogConfig selects the logger variant.
type LogConfig struct {
	Mode  string `mapstructure:"mode" json:"mode"`
	Level string `mapstructure:"level" json:"level"`
}

// Load reads the YAML file at configPath over the defaults and applies environment
// overrides. The result is not validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("format", d.Format)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("source.image_extensions", d.Source.ImageExtensions)
	v.SetDefault("source.image_width", d.Source.ImageWidth)
	v.SetDefault("source.image_height", d.Source.ImageHeight)
	v.SetDefault("target.mode", d.Target.Mode)
	v.SetDefault("target.naming", d.Target.Naming)
	v.SetDefault("target.dataset_yaml", d.Target.DatasetYAML)
	v.SetDefault("target.root", d.Target.Root)
	v.SetDefault("split.train", d.Split.Train)
	v.SetDefault("split.val", d.Split.Val)
	v.SetDefault("split.test", d.Split.Test)
	v.SetDefault("split.shuffle", d.Split.Shuffle)
	v.SetDefault("split.seed", d.Split.Seed)
	v.SetDefault("split.predefined", d.Split.Predefined)
	v.SetDefault("classes.fallback_id_offset", d.Classes.FallbackIDOffset)
	v.SetDefault("classes.passthrough_ids", d.Classes.PassthroughIDs)
	v.SetDefault("csv.header", d.CSV.Header)
	v.SetDefault("mot.class_id", d.MOT.ClassID)
	v.SetDefault("preview.count", d.Preview.Count)
	v.SetDefault("preview.dir", d.Preview.Dir)
	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("log.level", d.Log.Level)
}

// envOnlyKeys have no default, so AutomaticEnv would not see them unless the file
// sets them.
var envOnlyKeys = []string{
	"source.images",
	"source.annotations",
	"source.manifests",
	"source.annotation_extension",
	"csv.columns",
}

func bindEnv(v *viper.Viper) error {
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Default returns a configuration with default values. Sources, target root and
// classes have no sensible default and are left empty.
func Default() *Config {
	return &Config{
		Format:  string(annotation.FormatVOC),
		Workers: runtime.NumCPU(),
		Source: SourceConfig{
			ImageExtensions: append([]string(nil), discovery.DefaultImageExtensions...),
		},
		Target: TargetConfig{
			Mode:        string(materialize.ModeCopy),
			Naming:      NamingKeep,
			DatasetYAML: "dataset.yaml",
		},
		Split: SplitConfig{
			Train: 0.8,
			Val:   0.1,
			Test:  0.1,
		},
		Preview: PreviewConfig{
			Dir: "previews",
		},
		Log: LogConfig{
			Mode:  "debug",
			Level: "info",
		},
	}
}

// Validate checks that the configuration describes a runnable conversion.
func (c *Config) Validate() error {
	format, err := annotation.ParseFormat(c.Format)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if len(c.Source.Images) == 0 {
		return fmt.Errorf("source.images cannot be empty")
	}
	switch {
	case format.IsManifest():
		if len(c.Source.Manifests) == 0 {
			return fmt.Errorf("source.manifests cannot be empty for format %s", format)
		}
	case format != annotation.FormatMOT:
		if len(c.Source.Annotations) == 0 {
			return fmt.Errorf("source.annotations cannot be empty for format %s", format)
		}
	}
	if c.Source.ImageWidth < 0 || c.Source.ImageHeight < 0 {
		return fmt.Errorf("source.image_width and source.image_height must not be negative")
	}
	if (c.Source.ImageWidth == 0) != (c.Source.ImageHeight == 0) {
		return fmt.Errorf("source.image_width and source.image_height must be set together")
	}

	if c.Target.Root == "" {
		return fmt.Errorf("target.root cannot be empty")
	}
	if _, err := materialize.ParseMode(c.Target.Mode); err != nil {
		return fmt.Errorf("target.mode: %w", err)
	}
	if c.Target.Naming != NamingKeep && c.Target.Naming != NamingSequential {
		return fmt.Errorf("target.naming must be %q or %q", NamingKeep, NamingSequential)
	}

	if err := c.Ratios().Validate(); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if c.Split.Predefined {
		if len(c.Source.SplitLists) == 0 {
			return fmt.Errorf("source.split_lists cannot be empty when split.predefined is set")
		}
		for name := range c.Source.SplitLists {
			if !isSplit(name) {
				return fmt.Errorf("source.split_lists: unknown split %q", name)
			}
		}
	}

	if len(c.Classes.Map) == 0 && !c.Classes.PassthroughIDs {
		return fmt.Errorf("classes.map cannot be empty unless classes.passthrough_ids is set")
	}
	if _, err := c.ClassMap(); err != nil {
		return fmt.Errorf("classes: %w", err)
	}

	if c.Preview.Count < 0 {
		return fmt.Errorf("preview.count must not be negative")
	}
	return nil
}

// AnnotationFormat returns the parsed format. Call Validate first.
func (c *Config) AnnotationFormat() annotation.Format {
	f, _ := annotation.ParseFormat(c.Format)
	return f
}

// Ratios returns the split ratios.
func (c *Config) Ratios() split.Ratios {
	return split.Ratios{Train: c.Split.Train, Val: c.Split.Val, Test: c.Split.Test}
}

// Seed returns the shuffle seed, or nil when shuffling is off.
func (c *Config) Seed() *int64 {
	if !c.Split.Shuffle {
		return nil
	}
	seed := c.Split.Seed
	return &seed
}

// ClassMap builds the class map.
func (c *Config) ClassMap() (*annotation.ClassMap, error) {
	return annotation.NewClassMap(c.Classes.Map, annotation.ClassMapOptions{
		FallbackIDOffset: c.Classes.FallbackIDOffset,
		PassthroughIDs:   c.Classes.PassthroughIDs,
	})
}

// ParserOptions returns the annotation parser options.
func (c *Config) ParserOptions() annotation.Options {
	return annotation.Options{
		Manifests: c.Source.Manifests,
		CSV:       annotation.CSVOptions{Columns: c.CSV.Columns, Header: c.CSV.Header},
		MOTClass:  annotation.IDToken(c.MOT.ClassID),
	}
}

// DiscoveryOptions returns the discovery options for the configured format.
func (c *Config) DiscoveryOptions() discovery.Options {
	ext := c.Source.AnnotationExtension
	if ext == "" {
		ext = c.AnnotationFormat().AnnotationExtension()
	}
	return discovery.Options{
		ImageExtensions:     c.Source.ImageExtensions,
		AnnotationExtension: ext,
	}
}

// FixedSize reports the configured image size, if any.
func (c *Config) FixedSize() (w, h float64, ok bool) {
	if c.Source.ImageWidth > 0 && c.Source.ImageHeight > 0 {
		return c.Source.ImageWidth, c.Source.ImageHeight, true
	}
	return 0, 0, false
}

// Overrides replace configured paths, typically from command-line flags. Empty fields
// leave the configuration unchanged.
type Overrides struct {
	Images      []string
	Annotations []string
	Manifests   []string
	Root        string
	Format      string
}

// Apply writes the non-empty overrides into c.
func (o Overrides) Apply(c *Config) {
	if o.Format != "" {
		c.Format = o.Format
	}
	if len(o.Images) > 0 {
		c.Source.Images = o.Images
	}
	if len(o.Annotations) > 0 {
		c.Source.Annotations = o.Annotations
	}
	if len(o.Manifests) > 0 {
		c.Source.Manifests = o.Manifests
	}
	if o.Root != "" {
		c.Target.Root = o.Root
	}
}

func isSplit(name string) bool {
	for _, s := range split.All {
		if string(s) == name {
			return true
		}
	}
	return false
}
