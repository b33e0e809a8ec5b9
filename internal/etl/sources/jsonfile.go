package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Replays a dumped MDS trips document from disk. Each window receives the
// trips whose end_time lies inside it.

const defaultDataPath = "data.trips"

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Type() string { return "json_file" }

func (s *jsonFileSource) Open(_ context.Context, cfg *domain.ProviderConfig) (etl.Extractor, error) {
	trips, err := readTripsFile(cfg.FilePath, defaultDataPath)
	if err != nil {
		return nil, err
	}
	return &fileExtractor{trips: trips}, nil
}

type fileExtractor struct {
	trips []map[string]any
}

func (e *fileExtractor) Fetch(_ context.Context, w etl.TimeWindow, _ bool) ([]etl.Record, error) {
	var out []etl.Record
	for _, t := range e.trips {
		ts, ok := toFloat(t[etl.CheckpointField])
		if !ok || ts < float64(w.Start) || ts >= float64(w.End) {
			continue
		}
		// each window gets its own copy; the transform chain mutates records
		data := make(map[string]any, len(t))
		for k, v := range t {
			data[k] = v
		}
		out = append(out, etl.Record{Data: data})
	}
	return out, nil
}

func readTripsFile(filePath, dataPath string) ([]map[string]any, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	// A bare array is accepted as well as a full MDS document.
	if _, ok := raw.([]any); !ok {
		current := raw
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			current = m[part]
		}
		raw = current
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not an array", dataPath)
	}
	trips := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			trips = append(trips, m)
		}
	}
	return trips, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
