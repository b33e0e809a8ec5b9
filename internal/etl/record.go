package etl

import (
	"fmt"
	"regexp"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// Sources emit Records, the transform chain narrows them into a Batch,
// destinations consume Batches.

// Record is one trip flowing through the pipeline, keyed by field name.
type Record struct {
	Data map[string]any `json:"data"`
}

// FieldDescriptor describes one column of the staging schema.
type FieldDescriptor struct {
	Name     string `yaml:"name" json:"name"`
	Upload   bool   `yaml:"upload" json:"upload"`
	Datetime bool   `yaml:"datetime" json:"datetime"`
}

// FieldSchema is an ordered, validated list of field descriptors.
// It defines both the projection and which fields hold timestamps.
type FieldSchema struct {
	fields   []FieldDescriptor
	upload   []string
	datetime []string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewFieldSchema validates descriptors once so per-record work never has to.
func NewFieldSchema(fields []FieldDescriptor) (*FieldSchema, error) {
	s := &FieldSchema{fields: make([]FieldDescriptor, 0, len(fields))}
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if !identRe.MatchString(f.Name) {
			return nil, fmt.Errorf("field %d: invalid name %q", i, f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = true
		s.fields = append(s.fields, f)
		if f.Upload {
			s.upload = append(s.upload, f.Name)
			if f.Datetime {
				s.datetime = append(s.datetime, f.Name)
			}
		}
	}
	if len(s.upload) == 0 {
		return nil, fmt.Errorf("schema has no upload fields")
	}
	return s, nil
}

// MustFieldSchema is NewFieldSchema for static schemas; it panics on error.
func MustFieldSchema(fields []FieldDescriptor) *FieldSchema {
	s, err := NewFieldSchema(fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the descriptors in declaration order.
func (s *FieldSchema) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(s.fields))
	copy(out, s.fields)
	return out
}

// UploadFields returns the projected column names in canonical order.
func (s *FieldSchema) UploadFields() []string {
	out := make([]string, len(s.upload))
	copy(out, s.upload)
	return out
}

// DatetimeFields returns the uploaded fields that hold timestamps.
func (s *FieldSchema) DatetimeFields() []string {
	out := make([]string, len(s.datetime))
	copy(out, s.datetime)
	return out
}

// Uploads reports whether name is one of the projected columns.
func (s *FieldSchema) Uploads(name string) bool {
	for _, f := range s.upload {
		if f == name {
			return true
		}
	}
	return false
}

// Batch is one window's projected records plus their canonical column order.
type Batch struct {
	Columns []string
	Records []Record
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Rows returns the batch values laid out in column order.
func (b *Batch) Rows() [][]any {
	rows := make([][]any, len(b.Records))
	for i, r := range b.Records {
		row := make([]any, len(b.Columns))
		for j, c := range b.Columns {
			row[j] = r.Data[c]
		}
		rows[i] = row
	}
	return rows
}
