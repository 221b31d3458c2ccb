package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/spec"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const specColumns = `slug, output_type, is_active, is_dirty, config_json, raw_source_json, version, updated_at`

// #region put-spec
// PutSpec inserts or replaces a specification record. The authoring tool owns spec
// edits; the pipeline only reads them.
func (s *Store) PutSpec(ctx context.Context, rec spec.Record) error {
	if rec.Slug == "" {
		return fmt.Errorf("put spec: slug is required")
	}
	cfg := rec.Config
	if cfg == nil {
		cfg = &structpb.Struct{}
	}
	cfgJSON, err := protojson.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config of %s: %w", rec.Slug, err)
	}
	var rawJSON interface{}
	if rec.RawSource != nil {
		b, err := protojson.Marshal(rec.RawSource)
		if err != nil {
			return fmt.Errorf("marshal raw source of %s: %w", rec.Slug, err)
		}
		rawJSON = string(b)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO specs (`+specColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			output_type = excluded.output_type,
			is_active = excluded.is_active,
			is_dirty = excluded.is_dirty,
			config_json = excluded.config_json,
			raw_source_json = excluded.raw_source_json,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		rec.Slug, string(rec.OutputType), boolInt(rec.IsActive), boolInt(rec.IsDirty),
		string(cfgJSON), rawJSON, rec.Version, formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put spec %s: %w", rec.Slug, err)
	}
	return nil
}
// #endregion put-spec

// #region set-spec-state
// SetSpecState flips the activation and dirty flags of an existing spec.
func (s *Store) SetSpecState(ctx context.Context, slug string, active, dirty bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE specs SET is_active = ?, is_dirty = ?, updated_at = ? WHERE slug = ?`,
		boolInt(active), boolInt(dirty), formatTime(time.Now()), slug,
	)
	if err != nil {
		return fmt.Errorf("set spec state %s: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spec %s not found", slug)
	}
	return nil
}
// #endregion set-spec-state

// #region find-specs
// FindActiveSpecsByOutputType returns active, non-dirty specs of one output type ordered by slug.
func (s *Store) FindActiveSpecsByOutputType(ctx context.Context, outputType spec.OutputType) ([]spec.Record, error) {
	return s.querySpecs(ctx,
		`SELECT `+specColumns+` FROM specs
		 WHERE output_type = ? AND is_active = 1 AND is_dirty = 0
		 ORDER BY slug`, string(outputType))
}

// ListActiveSpecs returns every active, non-dirty spec ordered by slug.
func (s *Store) ListActiveSpecs(ctx context.Context) ([]spec.Record, error) {
	return s.querySpecs(ctx,
		`SELECT `+specColumns+` FROM specs
		 WHERE is_active = 1 AND is_dirty = 0
		 ORDER BY slug`)
}

// GetSpec returns a spec by slug regardless of its state.
func (s *Store) GetSpec(ctx context.Context, slug string) (spec.Record, error) {
	recs, err := s.querySpecs(ctx, `SELECT `+specColumns+` FROM specs WHERE slug = ?`, slug)
	if err != nil {
		return spec.Record{}, err
	}
	if len(recs) == 0 {
		return spec.Record{}, fmt.Errorf("get spec %s: %w", slug, sql.ErrNoRows)
	}
	return recs[0], nil
}

func (s *Store) querySpecs(ctx context.Context, query string, args ...interface{}) ([]spec.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query specs: %w", err)
	}
	defer rows.Close()

	var records []spec.Record
	for rows.Next() {
		var rec spec.Record
		var outputType, cfgJSON, updatedStr string
		var rawJSON sql.NullString
		var active, dirty int

		if err := rows.Scan(&rec.Slug, &outputType, &active, &dirty, &cfgJSON, &rawJSON, &rec.Version, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		rec.OutputType = spec.OutputType(outputType)
		rec.IsActive = active == 1
		rec.IsDirty = dirty == 1
		rec.UpdatedAt = parseTime(updatedStr)

		rec.Config = &structpb.Struct{}
		if err := protojson.Unmarshal([]byte(cfgJSON), rec.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config of %s: %w", rec.Slug, err)
		}
		if rawJSON.Valid && rawJSON.String != "" {
			rec.RawSource = &structpb.Struct{}
			if err := protojson.Unmarshal([]byte(rawJSON.String), rec.RawSource); err != nil {
				return nil, fmt.Errorf("unmarshal raw source of %s: %w", rec.Slug, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion find-specs

// #region parameters
// PutParameter inserts or replaces a parameter definition.
func (s *Store) PutParameter(ctx context.Context, p Parameter) error {
	if p.ID == "" {
		return fmt.Errorf("put parameter: id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (id, kind, is_adjustable, high_label, low_label)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			is_adjustable = excluded.is_adjustable,
			high_label = excluded.high_label,
			low_label = excluded.low_label`,
		p.ID, p.Kind, boolInt(p.IsAdjustable), nullIfEmpty(p.HighLabel), nullIfEmpty(p.LowLabel),
	)
	if err != nil {
		return fmt.Errorf("put parameter %s: %w", p.ID, err)
	}
	return nil
}

// FindParameter returns the parameter definition, or nil when it does not exist.
func (s *Store) FindParameter(ctx context.Context, id string) (*Parameter, error) {
	var p Parameter
	var adjustable int
	var high, low sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, is_adjustable, high_label, low_label FROM parameters WHERE id = ?`, id,
	).Scan(&p.ID, &p.Kind, &adjustable, &high, &low)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find parameter %s: %w", id, err)
	}
	p.IsAdjustable = adjustable == 1
	p.HighLabel = high.String
	p.LowLabel = low.String
	return &p, nil
}
// #endregion parameters
