package config

import "mdsync/internal/etl"

// DefaultFields is the MDS trip schema used when the config has no fields section.
func DefaultFields() []etl.FieldDescriptor {
	return []etl.FieldDescriptor{
		{Name: "provider_id", Upload: true},
		{Name: "provider_name", Upload: true},
		{Name: "device_id", Upload: true},
		{Name: "vehicle_id", Upload: true},
		{Name: "vehicle_type", Upload: true},
		{Name: "propulsion_type", Upload: false},
		{Name: "trip_id", Upload: true},
		{Name: "trip_duration", Upload: true},
		{Name: "trip_distance", Upload: true},
		{Name: "start_time", Upload: true, Datetime: true},
		{Name: "end_time", Upload: true, Datetime: true},
		{Name: "start_longitude", Upload: true},
		{Name: "start_latitude", Upload: true},
		{Name: "end_longitude", Upload: true},
		{Name: "end_latitude", Upload: true},
		{Name: "accuracy", Upload: false},
		{Name: "standard_cost", Upload: false},
		{Name: "actual_cost", Upload: false},
		{Name: "publication_time", Upload: false, Datetime: true},
	}
}
