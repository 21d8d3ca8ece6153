// Package location defines the location event flowing through the pipeline
// and the persisted row it may become.
package location

import (
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/famtrack/internal/geo"
)

// ErrInvalidEvent marks an event that violates the input contract. Such
// events are logged and dropped, never retried.
var ErrInvalidEvent = errors.New("invalid location event")

// Event is one position report from a tracked device.
type Event struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the event's coordinate.
func (e Event) Point() geo.Point {
	return geo.Point{Lat: e.Latitude, Lon: e.Longitude}
}

// Validate checks the event against the input contract.
func (e Event) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidEvent)
	}
	if !geo.ValidLatLon(e.Latitude, e.Longitude) {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrInvalidEvent, e.Latitude, e.Longitude)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

// Persisted is a durable location_events row.
type Persisted struct {
	ID         string
	UserID     string
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
}

// Point returns the persisted coordinate.
func (p Persisted) Point() geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}
