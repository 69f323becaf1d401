package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gatewatch/internal/domain/vehicle"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

type Event struct {
	ID                 int64     `gorm:"primaryKey"`
	EventUUID          uuid.UUID `gorm:"column:event_uuid"`
	GateID             int64     `gorm:"not null"`
	CameraID           int64     `gorm:"not null"`
	TrackID            *int64
	Direction          string `gorm:"not null"`
	VehicleType        *string
	Confidence         *float64
	PlateNumber        *string
	BarcodeValue       *string
	MaterialType       *string
	MaterialConfidence *float64
	LoadPercentage     *float64
	LoadLabel          *string
	SnapshotURL        *string
	LoadCropURL        *string
	EventTime          time.Time `gorm:"not null"`
	CreatedAt          time.Time
}

// CreateEvent persists a crossing. The caller's event gets its assigned id
// back; a write failure surfaces, losing an event is a correctness defect.
func (r *EventRepository) CreateEvent(ctx context.Context, event *vehicle.Event) error {
	dbEvent := Event{
		EventUUID: event.UUID,
		GateID:    event.GateID,
		CameraID:  event.CameraID,
		Direction: string(event.Direction),
		EventTime: event.Timestamp,
		CreatedAt: time.Now(),
	}

	if event.TrackID != 0 {
		dbEvent.TrackID = &event.TrackID
	}
	if event.VehicleType != "" {
		vt := string(event.VehicleType)
		dbEvent.VehicleType = &vt
	}
	if event.Confidence != 0 {
		dbEvent.Confidence = &event.Confidence
	}
	dbEvent.PlateNumber = event.Plate
	dbEvent.BarcodeValue = event.Barcode
	dbEvent.MaterialType = event.MaterialType
	dbEvent.MaterialConfidence = event.MaterialConfidence
	dbEvent.LoadPercentage = event.LoadPercentage
	dbEvent.LoadLabel = event.LoadLabel
	dbEvent.SnapshotURL = event.SnapshotURL
	dbEvent.LoadCropURL = event.LoadCropURL

	if err := r.db.WithContext(ctx).Create(&dbEvent).Error; err != nil {
		return err
	}

	event.ID = dbEvent.ID
	return nil
}

// EventFilter narrows FindEvents; nil fields are ignored.
type EventFilter struct {
	GateID    *int64
	CameraID  *int64
	Direction *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (r *EventRepository) FindEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := r.db.WithContext(ctx).Model(&Event{})

	if f.GateID != nil {
		query = query.Where("gate_id = ?", *f.GateID)
	}
	if f.CameraID != nil {
		query = query.Where("camera_id = ?", *f.CameraID)
	}
	if f.Direction != nil {
		query = query.Where("direction = ?", *f.Direction)
	}
	if f.From != nil {
		query = query.Where("event_time >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("event_time <= ?", *f.To)
	}

	query = query.Order("event_time DESC")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var events []Event
	err := query.Find(&events).Error
	return events, err
}

func (r *EventRepository) DeleteOldEvents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("event_time < ?", cutoff).
		Delete(&Event{})
	return res.RowsAffected, res.Error
}
