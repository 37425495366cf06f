// Package dataset reads and writes the JSON question-answer datasets the
// pipelines consume and produce, and the UMLS path files QA generation
// starts from.
//
// Entries keep every field they were loaded with, so a pipeline that
// adds or rewrites a few keys never drops the rest.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// Well-known entry keys.
const (
	KeyID            = "id"
	KeyQuestion      = "question"
	KeyAnswer        = "answer"
	KeyReasoning     = "reasoning"
	KeyReasoningPath = "reasoning_path"
	KeyUMLSPath      = "umls_path"
	KeyTemplateID    = "template_id"
)

// Entry is one dataset item. Fields are kept as raw JSON.
type Entry map[string]json.RawMessage

// NewEntry builds an entry from plain values.
func NewEntry(fields map[string]any) (Entry, error) {
	e := Entry{}
	for k, v := range fields {
		if err := e.Set(k, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ID returns the entry id as text. Numeric ids are rendered without quotes.
func (e Entry) ID() string {
	raw, ok := e[KeyID]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// String returns a string field, or "" when absent or not a string.
func (e Entry) String(key string) string {
	var s string
	if raw, ok := e[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Has reports whether key is present.
func (e Entry) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// Set stores v under key.
func (e Entry) Set(key string, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return fmt.Errorf("dataset: encoding %q: %w", key, err)
	}
	e[key] = raw
	return nil
}

// SetAll stores every field, reporting each one that failed to encode.
// Fields that encode are stored either way.
func (e Entry) SetAll(fields map[string]any) error {
	var errs []error
	for k, v := range fields {
		if err := e.Set(k, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Merge returns a copy of e with every field of overlay applied on top.
func (e Entry) Merge(overlay Entry) Entry {
	out := maps.Clone(e)
	if out == nil {
		out = Entry{}
	}
	maps.Copy(out, overlay)
	return out
}

// Clone returns a shallow copy.
func (e Entry) Clone() Entry {
	return maps.Clone(e)
}

// Require returns an error naming every missing key.
func (e Entry) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !e.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys %v", missing)
	}
	return nil
}

type document struct {
	Dataset []Entry `json:"dataset"`
}

// Decode parses {"dataset": [...]} or a bare array of entries.
func Decode(data []byte) ([]Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("dataset: empty input")
	}
	if data[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}
		return entries, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if doc.Dataset == nil {
		return nil, errors.New(`dataset: missing "dataset" array`)
	}
	return doc.Dataset, nil
}

// Load reads a dataset file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Save writes entries as {"dataset": [...]}. The file is replaced
// atomically so an interrupted checkpoint never leaves a partial file.
func Save(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := marshalIndent(document{Dataset: entries})
	if err != nil {
		return fmt.Errorf("dataset: encoding: %w", err)
	}
	return writeAtomic(path, data)
}

// Path is one multi-hop UMLS path, e.g. disease, drug, target.
type Path struct {
	Strs []string `json:"path_strs"`
	CUIs []string `json:"path_cuis,omitempty"`
}

// Paths maps a template id to its paths.
type Paths map[string][]Path

// LoadPaths reads a merged path file {"template_id": [{"path_strs": [...]}]}.
func LoadPaths(path string) (Paths, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	var p Paths
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// DefaultMinPathLength is the shortest path worth a question.
const DefaultMinPathLength = 3

// Filter keeps paths with at least minLength nodes and drops templates
// left empty.
func (p Paths) Filter(minLength int) Paths {
	out := Paths{}
	for id, paths := range p {
		var kept []Path
		for _, path := range paths {
			if len(path.Strs) >= minLength {
				kept = append(kept, path)
			}
		}
		if len(kept) > 0 {
			out[id] = kept
		}
	}
	return out
}

// Templates returns template ids in sorted order.
func (p Paths) Templates() []string {
	return slices.Sorted(maps.Keys(p))
}

// Len counts paths across templates.
func (p Paths) Len() int {
	n := 0
	for _, paths := range p {
		n += len(paths)
	}
	return n
}

// marshal encodes without HTML escaping so clinical text stays readable.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	data, err := marshalIndent(v)
	if err != nil {
		return fmt.Errorf("dataset: encoding: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("dataset: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dataset: writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	return nil
}

// FormatID renders a positional id for entries that lack one.
func FormatID(prefix string, i int) string {
	return prefix + strconv.Itoa(i)
}
