// Package archive parses uploaded evaluation archives into ordered question items.
//
// A selection archive holds two prefix groups of images whose identifiers (base name
// without extension) must match: baseline/ + proposed/, or left/ + right/ when the
// archive has no baseline/ or proposed/ entries at all. A classification archive holds
// an images/ group and an answers.yml key listing the labels.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/imageeval/internal/model"
)

var (
	ErrStructureMismatch = errors.New("image groups do not match")
	ErrEmptyArchive      = errors.New("archive holds no questions")
	ErrAnswerKey         = errors.New("answer key missing or malformed")
	ErrTooLarge          = errors.New("archive content exceeds the size limit")
)

// DefaultMaxUncompressed caps the decompressed bytes Parse reads from one archive.
const DefaultMaxUncompressed int64 = 1 << 30

// ImportError hides the parse failure behind one generic message.
// The cause stays reachable with errors.Is / errors.As for logging.
type ImportError struct {
	Cause error
}

func (e *ImportError) Error() string { return "archive structure invalid" }

func (e *ImportError) Unwrap() error { return e.Cause }

// Image is one image payload taken from the archive.
type Image struct {
	Name string // entry name inside the archive
	Data []byte
}

// Ext returns the lowercase extension of the entry, ".jpg" when it has none.
func (i Image) Ext() string {
	ext := strings.ToLower(path.Ext(i.Name))
	if ext == "" {
		return ".jpg"
	}
	return ext
}

// Item is the source material of one question, in question order.
type Item struct {
	ID    string
	Left  Image // selection: baseline/left image
	Right Image // selection: proposed/right image
	Image Image // classification image
}

// Parsed is the result of a successful parse.
type Parsed struct {
	Type   model.EvaluationType
	Items  []Item
	Labels []string // classification only
}

// LabelsJSON serializes the classification labels once for all questions.
func (p Parsed) LabelsJSON() (string, error) {
	if p.Labels == nil {
		return "", nil
	}
	b, err := json.Marshal(p.Labels)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var selectionPrefixes = [][2]string{
	{"baseline/", "proposed/"},
	{"left/", "right/"},
}

const imagesPrefix = "images/"

var answerKeyNames = []string{"answers.yml", "answers.yaml"}

// Parse reads a zip archive for the given evaluation type, reading at most
// DefaultMaxUncompressed bytes of entry content.
// Every failure is returned as *ImportError.
func Parse(data []byte, typ model.EvaluationType) (Parsed, error) {
	return ParseLimit(data, typ, DefaultMaxUncompressed)
}

// ParseLimit is Parse with an explicit cap on the decompressed bytes read.
func ParseLimit(data []byte, typ model.EvaluationType, maxUncompressed int64) (Parsed, error) {
	p, err := parse(data, typ, &budget{left: maxUncompressed})
	if err != nil {
		return Parsed{}, &ImportError{Cause: err}
	}
	return p, nil
}

// budget tracks how many decompressed bytes an archive may still yield.
type budget struct {
	left int64
}

func parse(data []byte, typ model.EvaluationType, b *budget) (Parsed, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Parsed{}, fmt.Errorf("open zip: %w", err)
	}
	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		if skipEntry(f) {
			continue
		}
		files[f.Name] = f
	}

	switch typ {
	case model.EvaluationSelection:
		return parseSelection(files, b)
	case model.EvaluationClassification:
		return parseClassification(files, b)
	default:
		return Parsed{}, fmt.Errorf("unknown evaluation type %q", typ)
	}
}

func skipEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return true
	}
	if strings.HasPrefix(f.Name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(f.Name), ".")
}

func parseSelection(files map[string]*zip.File, b *budget) (Parsed, error) {
	first, err := groupWithPrefix(files, selectionPrefixes[0][0])
	if err != nil {
		return Parsed{}, err
	}
	second, err := groupWithPrefix(files, selectionPrefixes[0][1])
	if err != nil {
		return Parsed{}, err
	}
	altFirst, err := groupWithPrefix(files, selectionPrefixes[1][0])
	if err != nil {
		return Parsed{}, err
	}
	altSecond, err := groupWithPrefix(files, selectionPrefixes[1][1])
	if err != nil {
		return Parsed{}, err
	}

	hasPrimary := len(first) > 0 || len(second) > 0
	hasAlt := len(altFirst) > 0 || len(altSecond) > 0
	if hasPrimary && hasAlt {
		return Parsed{}, fmt.Errorf("%w: both baseline/proposed and left/right groups present", ErrStructureMismatch)
	}
	if hasAlt {
		first, second = altFirst, altSecond
	}

	if !sameKeys(first, second) {
		return Parsed{}, ErrStructureMismatch
	}
	if len(first) == 0 {
		return Parsed{}, ErrEmptyArchive
	}

	ids := sortIdentifiers(keys(first))
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		left, err := readImage(first[id], b)
		if err != nil {
			return Parsed{}, err
		}
		right, err := readImage(second[id], b)
		if err != nil {
			return Parsed{}, err
		}
		items = append(items, Item{ID: id, Left: left, Right: right})
	}
	return Parsed{Type: model.EvaluationSelection, Items: items}, nil
}

func parseClassification(files map[string]*zip.File, b *budget) (Parsed, error) {
	labels, err := readAnswerKey(files, b)
	if err != nil {
		return Parsed{}, err
	}
	group, err := groupWithPrefix(files, imagesPrefix)
	if err != nil {
		return Parsed{}, err
	}
	if len(group) == 0 {
		return Parsed{}, ErrEmptyArchive
	}

	ids := sortIdentifiers(keys(group))
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		img, err := readImage(group[id], b)
		if err != nil {
			return Parsed{}, err
		}
		items = append(items, Item{ID: id, Image: img})
	}
	return Parsed{Type: model.EvaluationClassification, Items: items, Labels: labels}, nil
}

func readAnswerKey(files map[string]*zip.File, b *budget) ([]string, error) {
	var f *zip.File
	for _, name := range answerKeyNames {
		if f = files[name]; f != nil {
			break
		}
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no %s", ErrAnswerKey, answerKeyNames[0])
	}
	data, err := readFile(f, b)
	if err != nil {
		return nil, err
	}
	return ParseAnswerKey(data)
}

// ParseAnswerKey decodes a YAML sequence of answer labels.
func ParseAnswerKey(data []byte) ([]string, error) {
	var labels []string
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswerKey, err)
	}
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: need at least two labels, got %d", ErrAnswerKey, len(labels))
	}
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, fmt.Errorf("%w: label %d is empty", ErrAnswerKey, i)
		}
		labels[i] = l
	}
	return labels, nil
}

// groupWithPrefix maps identifiers to entries under prefix.
// Two entries sharing an identifier (a.jpg, a.png) make the group ambiguous.
func groupWithPrefix(files map[string]*zip.File, prefix string) (map[string]*zip.File, error) {
	group := make(map[string]*zip.File)
	for name, f := range files {
		if !strings.HasPrefix(name, prefix) || len(name) <= len(prefix) {
			continue
		}
		id := Identifier(name)
		if id == "" {
			continue
		}
		if prev, ok := group[id]; ok {
			return nil, fmt.Errorf("%w: %s and %s share identifier %q", ErrStructureMismatch, prev.Name, name, id)
		}
		group[id] = f
	}
	return group, nil
}

// Identifier strips directories and the extension: proposed/first.jpg -> first.
func Identifier(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

func sameKeys(a, b map[string]*zip.File) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func keys(m map[string]*zip.File) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// sortIdentifiers orders numerically when every identifier is a non-negative
// integer, lexicographically otherwise.
func sortIdentifiers(ids []string) []string {
	nums := make(map[string]uint64, len(ids))
	numeric := true
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[id] = n
	}
	sort.Slice(ids, func(i, j int) bool {
		if numeric && nums[ids[i]] != nums[ids[j]] {
			return nums[ids[i]] < nums[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func readImage(f *zip.File, b *budget) (Image, error) {
	data, err := readFile(f, b)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %s is empty", ErrStructureMismatch, f.Name)
	}
	return Image{Name: f.Name, Data: data}, nil
}

// readFile decompresses an entry, charging its size to b. The declared size in
// the zip header is not trusted.
func readFile(f *zip.File, b *budget) ([]byte, error) {
	if f.UncompressedSize64 > uint64(b.left) {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, b.left+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > b.left {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	b.left -= int64(len(data))
	return data, nil
}
