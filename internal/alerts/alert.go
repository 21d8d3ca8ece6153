// Package alerts turns zone crossings into alert records, suppressing
// repeats for the same (direction, user, zone) within a cooldown window.
package alerts

import (
	"time"

	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/zones"
)

// Direction of a zone crossing. The value is used in cooldown keys.
type Direction string

const (
	DirectionEnter Direction = "enter"
	DirectionLeave Direction = "leave"
)

// Type is the persisted and published alert kind.
type Type string

const (
	TypeDangerZoneEnter Type = "DANGER_ZONE_ENTER"
	TypeDangerZoneLeave Type = "DANGER_ZONE_LEAVE"
	TypeSafeZoneEnter   Type = "SAFE_ZONE_ENTER"
	TypeSafeZoneLeave   Type = "SAFE_ZONE_LEAVE"
	TypeSOS             Type = "SOS"
)

// TypeFor maps a zone kind and crossing direction to an alert type.
func TypeFor(kind zones.Kind, dir Direction) Type {
	switch {
	case kind == zones.KindDanger && dir == DirectionEnter:
		return TypeDangerZoneEnter
	case kind == zones.KindDanger:
		return TypeDangerZoneLeave
	case dir == DirectionEnter:
		return TypeSafeZoneEnter
	default:
		return TypeSafeZoneLeave
	}
}

// Alert is a durable alert row. ZoneID is empty for SOS alerts.
type Alert struct {
	ID        string
	GroupID   string
	UserID    string
	UserName  string
	ZoneID    string
	ZoneName  string
	Type      Type
	CreatedAt time.Time
}

// Message renders the fanout payload.
func (a Alert) Message() fanout.AlertMessage {
	m := fanout.AlertMessage{
		Type:      string(a.Type),
		User:      fanout.Ref{ID: a.UserID, Name: a.UserName},
		GroupID:   a.GroupID,
		CreatedAt: a.CreatedAt,
	}
	if a.ZoneID != "" {
		m.Area = &fanout.Ref{ID: a.ZoneID, Name: a.ZoneName}
	}
	return m
}
