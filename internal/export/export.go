// Package export writes point-in-time snapshots of the family tree into the
// configured blob store and reads them back.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"familytree/internal/blob"
	"familytree/pkg/domain"
)

// Prefix is the key namespace exports are written under.
const Prefix = "exports/"

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml; empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) contentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Document is the archived form of the tree.
type Document struct {
	ExportedAt    time.Time             `json:"exportedAt" yaml:"exportedAt"`
	People        []domain.Person       `json:"people" yaml:"people"`
	Relationships []domain.Relationship `json:"relationships" yaml:"relationships"`
}

// Source supplies ordered tree snapshots; core.Service satisfies it.
type Source interface {
	Snapshot(ctx context.Context) ([]domain.Person, []domain.Relationship, error)
}

// Result describes a written export.
type Result struct {
	blob.Info
	Format        Format `json:"format"`
	People        int    `json:"people"`
	Relationships int    `json:"relationships"`
	URL           string `json:"url,omitempty"`
}

// Exporter serialises snapshots from a Source into a blob Store.
type Exporter struct {
	source Source
	store  blob.Store
	now    func() time.Time
	expiry time.Duration
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source used for keys and ExportedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPresignExpiry sets the lifetime of download URLs.
func WithPresignExpiry(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.expiry = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Exporter.
func New(source Source, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the object key for an export taken at t.
func Key(t time.Time, f Format) string {
	return Prefix + "tree-" + t.UTC().Format("20060102T150405Z") + "." + string(f)
}

func encode(doc Document, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
	return buf.Bytes(), nil
}

// Export snapshots the tree and stores it. A key collision within the same
// second gets a random suffix. The URL is left empty when the store cannot
// presign.
func (e *Exporter) Export(ctx context.Context, f Format) (Result, error) {
	persons, unions, err := e.source.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: %w", err)
	}
	at := e.now()
	doc := Document{ExportedAt: at, People: persons, Relationships: unions}
	if doc.People == nil {
		doc.People = []domain.Person{}
	}
	if doc.Relationships == nil {
		doc.Relationships = []domain.Relationship{}
	}
	raw, err := encode(doc, f)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", f, err)
	}

	opts := blob.PutOptions{
		ContentType: f.contentType(),
		Metadata: map[string]string{
			"format":        string(f),
			"people":        strconv.Itoa(len(persons)),
			"relationships": strconv.Itoa(len(unions)),
		},
	}
	key := Key(at, f)
	info, err := e.store.Put(ctx, key, bytes.NewReader(raw), opts)
	if errors.Is(err, blob.ErrExists) {
		key = strings.TrimSuffix(key, "."+string(f)) + "-" + uuid.NewString()[:8] + "." + string(f)
		info, err = e.store.Put(ctx, key, bytes.NewReader(raw), opts)
	}
	if err != nil {
		return Result{}, fmt.Errorf("store export %s: %w", key, err)
	}

	res := Result{Info: info, Format: f, People: len(persons), Relationships: len(unions)}
	url, err := e.store.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: e.expiry})
	switch {
	case err == nil:
		res.URL = url
	case errors.Is(err, blob.ErrUnsupported):
	default:
		e.logger.Warn("presign export failed", "key", key, "error", err)
	}
	e.logger.Info("tree exported", "key", key, "format", f, "bytes", info.Size, "people", res.People)
	return res, nil
}

// List returns stored exports, oldest first.
func (e *Exporter) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := e.store.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	return infos, nil
}

// Open streams a stored export.
func (e *Exporter) Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if !strings.HasPrefix(key, Prefix) {
		return blob.Info{}, nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}
	info, rc, err := e.store.Get(ctx, key)
	if err != nil {
		return blob.Info{}, nil, fmt.Errorf("open export %s: %w", key, err)
	}
	return info, rc, nil
}

// Load reads an export back. The format is taken from the key suffix.
func (e *Exporter) Load(ctx context.Context, key string) (Document, error) {
	_, rc, err := e.Open(ctx, key)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = rc.Close() }()
	var doc Document
	switch {
	case strings.HasSuffix(key, ".yaml"):
		err = yaml.NewDecoder(rc).Decode(&doc)
	default:
		err = json.NewDecoder(rc).Decode(&doc)
	}
	if err != nil {
		return Document{}, fmt.Errorf("decode export %s: %w", key, err)
	}
	return doc, nil
}

// Prune deletes all but the newest keep exports and returns the removed keys.
func (e *Exporter) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must be non-negative, got %d", keep)
	}
	infos, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}
	var removed []string
	for _, info := range infos[:len(infos)-keep] {
		ok, err := e.store.Delete(ctx, info.Key)
		if err != nil {
			return removed, fmt.Errorf("delete %s: %w", info.Key, err)
		}
		if ok {
			removed = append(removed, info.Key)
		}
	}
	if len(removed) > 0 {
		e.logger.Info("exports pruned", "removed", len(removed), "kept", keep)
	}
	return removed, nil
}
