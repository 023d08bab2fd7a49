package annotation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// ErrMalformedSource reports an annotation source that cannot be read as a whole.
var ErrMalformedSource = errors.New("malformed annotation source")

// Format identifies a source annotation format.
type Format string

const (
	FormatVOC      Format = "voc"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMOT      Format = "mot"
	FormatDOTA     Format = "dota"
	FormatOriented Format = "oriented"
	FormatCorners  Format = "corners"
	FormatYOLO     Format = "yolo"
)

// Formats lists every supported format.
var Formats = []Format{
	FormatVOC, FormatJSON, FormatCSV, FormatMOT,
	FormatDOTA, FormatOriented, FormatCorners, FormatYOLO,
}

// ParseFormat returns the Format named by s, ignoring case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown annotation format %q", s)
}

// IsManifest reports whether f keeps annotations for many images in shared files.
func (f Format) IsManifest() bool {
	return f == FormatJSON || f == FormatCSV
}

// AnnotationExtension is the per-image annotation file extension used for stem
// matching. Manifest and MOT formats return "".
func (f Format) AnnotationExtension() string {
	switch f {
	case FormatVOC:
		return ".xml"
	case FormatDOTA, FormatOriented, FormatCorners, FormatYOLO:
		return ".txt"
	default:
		return ""
	}
}

// Token is a source class label: a name, or an integer id when IsID is set.
type Token struct {
	Name string
	ID   int
	IsID bool
}

// NameToken returns a name token.
func NameToken(name string) Token {
	return Token{Name: name}
}

// IDToken returns a source id token.
func IDToken(id int) Token {
	return Token{ID: id, IsID: true}
}

// ParseToken interprets a textual class field. Integers become source ids. An integral
// float such as "2.0" is also a source id, since several text formats write class ids
// through a float formatter. Everything else is a class name.
func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil {
		return IDToken(id)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return IDToken(int(f))
	}
	return NameToken(s)
}

func (t Token) String() string {
	if t.IsID {
		return strconv.Itoa(t.ID)
	}
	return t.Name
}

// Object is one labelled box as read from the source.
type Object struct {
	Class     Token
	Box       geometry.RawBox
	Difficult bool
}

// Annotation is everything a source says about one image.
type Annotation struct {
	// Width and Height are the image size declared by the source. They are meaningful
	// only when HasSize is set; otherwise the caller resolves the size elsewhere.
	Width   float64
	Height  float64
	HasSize bool

	// Objects are in source order.
	Objects []Object

	// Problems records objects or rows that were skipped while reading.
	Problems []error
}

func (a *Annotation) problem(format string, args ...any) {
	a.Problems = append(a.Problems, fmt.Errorf(format, args...))
}

// Parser reads the annotation for one discovered pair. Implementations are safe for
// concurrent use.
type Parser interface {
	Parse(pair discovery.Pair) (*Annotation, error)
}

// Manifest is a Parser backed by shared manifest files. Keys lists every image key the
// manifest describes, for use with discovery.MatchManifest. Problems reports entries
// that could not be attributed to any image.
type Manifest interface {
	Parser
	Keys() []string
	Problems() []error
}

// Options configures New.
type Options struct {
	// Manifests are the manifest file paths for json and csv.
	Manifests []string

	// CSV configures the csv format.
	CSV CSVOptions

	// MOTClass is the class token assigned to every MOT detection.
	MOTClass Token
}

// New returns the Parser for format. Manifest formats load their manifests here, so
// an unreadable manifest fails before any output is produced.
func New(format Format, opts Options) (Parser, error) {
	switch format {
	case FormatVOC:
		return VOCParser{}, nil
	case FormatJSON:
		m, err := LoadJSONManifest(opts.Manifests...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case FormatCSV:
		m, err := LoadCSVManifest(opts.CSV, opts.Manifests...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case FormatMOT:
		return NewMOTParser(opts.MOTClass), nil
	case FormatDOTA:
		return OrientedParser{HeaderLines: 2}, nil
	case FormatOriented:
		return OrientedParser{}, nil
	case FormatCorners:
		return CornersParser{}, nil
	case FormatYOLO:
		return YOLOParser{}, nil
	default:
		return nil, fmt.Errorf("unknown annotation format %q", format)
	}
}

func malformed(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedSource, source, err)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
