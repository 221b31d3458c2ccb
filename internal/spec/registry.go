package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/cache"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region source

// Source is the storage collaborator that holds specification records.
type Source interface {
	FindActiveSpecsByOutputType(ctx context.Context, outputType OutputType) ([]Record, error)
	ListActiveSpecs(ctx context.Context) ([]Record, error)
}

// #endregion source

// #region registry

const (
	keyPrefix  = "specs:"
	keyAll     = keyPrefix + "all"
	keyTypeFmt = keyPrefix + "type:%s"
)

// DefaultCacheTTL bounds how long a loaded rule set is reused without re-reading storage.
const DefaultCacheTTL = 30 * time.Second

// Registry loads active specification records through a TTL cache. Edits made by the
// authoring tool become visible after the TTL or after an explicit Invalidate.
type Registry struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewRegistry creates a registry. A nil cache uses an in-process cache; a nil logger
// uses slog.Default().
func NewRegistry(source Source, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Registry {
	if c == nil {
		c = cache.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		source: source,
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "registry"),
	}
}

// #endregion registry

// #region lookups

// FindActiveSpecsByOutputType returns every active, non-dirty spec of the given type.
func (r *Registry) FindActiveSpecsByOutputType(ctx context.Context, outputType OutputType) ([]ActiveSpec, error) {
	return r.load(ctx, fmt.Sprintf(keyTypeFmt, outputType), func(ctx context.Context) ([]Record, error) {
		return r.source.FindActiveSpecsByOutputType(ctx, outputType)
	})
}

// ListActive returns every active, non-dirty spec regardless of type.
func (r *Registry) ListActive(ctx context.Context) ([]ActiveSpec, error) {
	return r.load(ctx, keyAll, r.source.ListActiveSpecs)
}

// FindActive returns the active spec with the given slug, or nil when there is none.
func (r *Registry) FindActive(ctx context.Context, slug string) (*ActiveSpec, error) {
	all, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Slug == slug {
			s := all[i]
			return &s, nil
		}
	}
	return nil, nil
}

// Invalidate drops every cached rule set. Call it after a spec is edited.
func (r *Registry) Invalidate(ctx context.Context) error {
	if err := r.cache.Purge(ctx, keyPrefix); err != nil {
		return fmt.Errorf("invalidate spec cache: %w", err)
	}
	r.logger.Debug("spec cache invalidated")
	return nil
}

func (r *Registry) load(ctx context.Context, key string, fetch func(context.Context) ([]Record, error)) ([]ActiveSpec, error) {
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("spec cache read failed", "key", key, "error", err)
	} else if ok {
		specs, err := decodeSpecs(data)
		if err == nil {
			return specs, nil
		}
		r.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
	}

	records, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("load specs: %w", err)
	}
	specs := make([]ActiveSpec, 0, len(records))
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		specs = append(specs, FromRecord(rec))
	}

	if data, err := encodeSpecs(specs); err != nil {
		r.logger.Warn("spec cache encode failed", "key", key, "error", err)
	} else if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn("spec cache write failed", "key", key, "error", err)
	}
	return specs, nil
}

// #endregion lookups

// #region cache-encoding

type cachedSpec struct {
	Slug       string          `json:"slug"`
	OutputType OutputType      `json:"outputType"`
	Config     json.RawMessage `json:"config,omitempty"`
	DependsOn  []string        `json:"dependsOn,omitempty"`
	Version    int             `json:"version"`
}

func encodeSpecs(specs []ActiveSpec) ([]byte, error) {
	out := make([]cachedSpec, len(specs))
	for i, s := range specs {
		out[i] = cachedSpec{
			Slug:       s.Slug,
			OutputType: s.OutputType,
			DependsOn:  s.DependsOn,
			Version:    s.Version,
		}
		if s.Config != nil {
			raw, err := protojson.Marshal(s.Config)
			if err != nil {
				return nil, fmt.Errorf("marshal config of %s: %w", s.Slug, err)
			}
			out[i].Config = raw
		}
	}
	return json.Marshal(out)
}

func decodeSpecs(data []byte) ([]ActiveSpec, error) {
	var in []cachedSpec
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	specs := make([]ActiveSpec, len(in))
	for i, c := range in {
		specs[i] = ActiveSpec{
			Slug:       c.Slug,
			OutputType: c.OutputType,
			DependsOn:  c.DependsOn,
			Version:    c.Version,
		}
		if len(c.Config) > 0 {
			cfg := &structpb.Struct{}
			if err := protojson.Unmarshal(c.Config, cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config of %s: %w", c.Slug, err)
			}
			specs[i].Config = cfg
		}
	}
	return specs, nil
}

// #endregion cache-encoding
