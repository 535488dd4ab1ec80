package models

// TripLog is the ordered event sequence of one trip.
type TripLog struct {
	TripID string  `json:"trip_id" bson:"trip_id"`
	Events []Event `json:"events" bson:"events"`
}

// TripMetadata describes a trip as listed in a trip manifest.
type TripMetadata struct {
	ID   string `json:"id" yaml:"id" bson:"trip_id"`
	File string `json:"file,omitempty" yaml:"file" bson:"-"`
	Name string `json:"name" yaml:"name" bson:"name"`
}
