package vehicle

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of a crossing relative to the gate.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// Type is the vehicle classification carried on events and rules.
type Type string

const (
	TypeTruck   Type = "Truck"
	TypeDumper  Type = "Dumper"
	TypeCar     Type = "Car/4-wheeler"
	TypeBike    Type = "Bike/2-wheeler"
	TypeTractor Type = "Tractor/Trolley"
	TypeUnknown Type = "Unknown"
)

var classMapping = map[string]Type{
	"truck":          TypeTruck,
	"dumper":         TypeDumper,
	"car/4-wheeler":  TypeCar,
	"car":            TypeCar,
	"bike/2-wheeler": TypeBike,
	"bike":           TypeBike,
	"tractor":        TypeTractor,
	"trolley":        TypeTractor,
}

// TypeFromClass maps a detector class label onto a vehicle type.
// Unmapped labels become TypeUnknown, never an error.
func TypeFromClass(clsName string) Type {
	if t, ok := classMapping[strings.ToLower(strings.TrimSpace(clsName))]; ok {
		return t
	}
	return TypeUnknown
}

// Event is one deduplicated, directional vehicle crossing. Immutable once built.
type Event struct {
	ID                 int64
	UUID               uuid.UUID
	GateID             int64
	CameraID           int64
	TrackID            int64
	Direction          Direction
	VehicleType        Type
	Confidence         float64
	Timestamp          time.Time
	Plate              *string
	Barcode            *string
	MaterialType       *string
	MaterialConfidence *float64
	LoadPercentage     *float64
	LoadLabel          *string
	SnapshotURL        *string
	LoadCropURL        *string

	// Resolved names, carried for notification bodies; not persisted.
	GateName   string
	CameraName string
}

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// NotificationRule controls which events reach which channel for a gate.
// MinConfidence is a percentage (0-100); event confidence is 0-1.
type NotificationRule struct {
	ID            int64     `json:"id"`
	GateID        int64     `json:"gate_id"`
	Channel       Channel   `json:"channel"`
	Enabled       bool      `json:"enabled"`
	MinConfidence int       `json:"min_confidence"`
	Directions    string    `json:"directions,omitempty"`
	VehicleTypes  string    `json:"vehicle_types,omitempty"`
	Recipients    string    `json:"recipients,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r NotificationRule) RecipientList() []string {
	return splitList(r.Recipients)
}

// AllowsDirection reports whether the rule's direction allow-list admits d.
// An empty list admits everything.
func (r NotificationRule) AllowsDirection(d Direction) bool {
	dirs := splitList(r.Directions)
	if len(dirs) == 0 {
		return true
	}
	for _, v := range dirs {
		if strings.EqualFold(v, string(d)) {
			return true
		}
	}
	return false
}

// AllowsVehicleType reports whether the rule's vehicle-type allow-list admits t.
func (r NotificationRule) AllowsVehicleType(t Type) bool {
	types := splitList(r.VehicleTypes)
	if len(types) == 0 {
		return true
	}
	for _, v := range types {
		if strings.EqualFold(v, string(t)) {
			return true
		}
	}
	return false
}
