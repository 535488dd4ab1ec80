package models

// Location represents a geographical position reported with an event.
type Location struct {
	Lat       float64  `bson:"lat" json:"lat"`
	Lon       float64  `bson:"lon" json:"lon"`
	AccuracyM *float64 `bson:"accuracy_m,omitempty" json:"accuracy_m,omitempty"`
}
