// Package zones describes geofenced areas and the oracle that answers which
// of them contain a point. The point-in-polygon test itself is delegated to
// the backing store.
package zones

import (
	"context"
	"errors"

	"github.com/albapepper/famtrack/internal/geo"
)

// ErrNotFound is returned by Lookup.ByID for deleted or unknown zones.
var ErrNotFound = errors.New("zone not found")

// Kind classifies a zone.
type Kind string

const (
	KindSafe   Kind = "SAFE"
	KindDanger Kind = "DANGER"
)

// AlertOn says which crossings raise an alert.
type AlertOn string

const (
	AlertOnEnter AlertOn = "ENTER"
	AlertOnLeave AlertOn = "LEAVE"
	AlertOnBoth  AlertOn = "BOTH"
)

// OnEnter reports whether entering the zone raises an alert.
func (a AlertOn) OnEnter() bool { return a == AlertOnEnter || a == AlertOnBoth }

// OnLeave reports whether leaving the zone raises an alert.
func (a AlertOn) OnLeave() bool { return a == AlertOnLeave || a == AlertOnBoth }

// Zone is a polygonal area owned by a group. TargetUserID is empty when the
// zone applies to every member.
type Zone struct {
	ID           string  `json:"id"`
	GroupID      string  `json:"groupId"`
	Name         string  `json:"name"`
	Kind         Kind    `json:"type"`
	TargetUserID string  `json:"targetUserId,omitempty"`
	AlertOn      AlertOn `json:"alertOn"`
}

// Query asks for zones of GroupIDs that apply to UserID and contain Point.
type Query struct {
	Point    geo.Point
	GroupIDs []string
	UserID   string
}

// Oracle answers point-in-zone queries.
type Oracle interface {
	Containing(ctx context.Context, q Query) ([]Zone, error)
}

// Lookup fetches a single zone.
type Lookup interface {
	ByID(ctx context.Context, id string) (Zone, error)
}
