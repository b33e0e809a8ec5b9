package etl

import (
	"encoding/json"
	"fmt"
)

// ── Transforms ─────────────────────────────────────────────
// Each window's batch passes through, in fixed order:
//   RouteNormalizer → Deduplicator → FieldProjector → NormalizeTimes.

// Fields derived from the route geometry.
const (
	RouteField     = "route"
	StartLongitude = "start_longitude"
	StartLatitude  = "start_latitude"
	EndLongitude   = "end_longitude"
	EndLatitude    = "end_latitude"

	DefaultDedupeKey = "trip_id"
)

// ── RouteNormalizer ────────────────────────────────────────

// RouteNormalizer derives start/end coordinates from the embedded route
// FeatureCollection and drops the raw route.
//
// A missing route, or one without features, yields 0 for all four fields.
// A feature with an empty coordinate array yields nil (unknown) for its pair.
type RouteNormalizer struct {
	Field string // defaults to RouteField
}

// Normalize rewrites records in place and returns them.
func (n *RouteNormalizer) Normalize(records []Record) []Record {
	for i := range records {
		n.normalize(&records[i])
	}
	return records
}

func (n *RouteNormalizer) normalize(r *Record) {
	field := n.Field
	if field == "" {
		field = RouteField
	}
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	features := routeFeatures(r.Data[field])
	delete(r.Data, field)

	if len(features) == 0 {
		r.Data[StartLongitude], r.Data[StartLatitude] = 0.0, 0.0
		r.Data[EndLongitude], r.Data[EndLatitude] = 0.0, 0.0
		return
	}
	r.Data[StartLongitude], r.Data[StartLatitude] = featureCoords(features[0])
	r.Data[EndLongitude], r.Data[EndLatitude] = featureCoords(features[len(features)-1])
}

func routeFeatures(route any) []any {
	switch v := route.(type) {
	case map[string]any:
		features, _ := v["features"].([]any)
		return features
	case string:
		// some sources hand the route over as serialized GeoJSON
		var m map[string]any
		if v == "" || json.Unmarshal([]byte(v), &m) != nil {
			return nil
		}
		return routeFeatures(m)
	default:
		return nil
	}
}

func featureCoords(feature any) (lon, lat any) {
	f, _ := feature.(map[string]any)
	geom, _ := f["geometry"].(map[string]any)
	coords, _ := geom["coordinates"].([]any)
	if len(coords) < 2 {
		// some provider data has an empty coordinates element
		return nil, nil
	}
	return coords[0], coords[1]
}

// ── Deduplicator ───────────────────────────────────────────

// Deduplicator keeps the first record seen for each key within one batch.
// Dropped keys are reported through OnDuplicate, never as an error.
type Deduplicator struct {
	Key         string // defaults to DefaultDedupeKey
	OnDuplicate func(key string)
}

// Dedupe returns a new slice with first-seen order preserved, plus the
// dropped keys in the order they were encountered.
func (d *Deduplicator) Dedupe(records []Record) ([]Record, []string, error) {
	key := d.Key
	if key == "" {
		key = DefaultDedupeKey
	}
	seen := make(map[string]bool, len(records))
	out := make([]Record, 0, len(records))
	var dropped []string
	for i, r := range records {
		v, ok := r.Data[key]
		if !ok || v == nil {
			return nil, nil, DataError("dedupe", fmt.Errorf("record %d has no %s", i, key))
		}
		k := fmt.Sprint(v)
		if seen[k] {
			dropped = append(dropped, k)
			if d.OnDuplicate != nil {
				d.OnDuplicate(k)
			}
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out, dropped, nil
}

// ── FieldProjector ─────────────────────────────────────────

// FieldProjector narrows records to the schema's upload fields.
type FieldProjector struct {
	Schema *FieldSchema
}

// Project returns a Batch holding exactly the upload fields of every record.
// A record missing one of them is a DataError; a present nil value is kept.
func (p *FieldProjector) Project(records []Record) (*Batch, error) {
	cols := p.Schema.UploadFields()
	b := &Batch{Columns: cols, Records: make([]Record, 0, len(records))}
	for i, r := range records {
		data := make(map[string]any, len(cols))
		for _, c := range cols {
			v, ok := r.Data[c]
			if !ok {
				return nil, DataError("project", fmt.Errorf("record %d (%v) is missing field %q", i, r.Data[DefaultDedupeKey], c))
			}
			data[c] = v
		}
		b.Records = append(b.Records, Record{Data: data})
	}
	return b, nil
}
