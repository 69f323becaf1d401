package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gatewatch/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type EventService struct {
	events  *repository.EventRepository
	cameras *repository.CameraRepository
	log     zerolog.Logger
}

func NewEventService(events *repository.EventRepository, cameras *repository.CameraRepository, log zerolog.Logger) *EventService {
	return &EventService{
		events:  events,
		cameras: cameras,
		log:     log,
	}
}

func (s *EventService) FindEvents(ctx context.Context, gateID, cameraID *int64, direction *string, from, to *string, limit, offset int) ([]EventInfo, error) {
	filter := repository.EventFilter{
		GateID:   gateID,
		CameraID: cameraID,
	}

	if direction != nil && *direction != "" {
		d := *direction
		if d != "ENTRY" && d != "EXIT" {
			return nil, fmt.Errorf("%w: direction must be ENTRY or EXIT", ErrInvalidInput)
		}
		filter.Direction = &d
	}

	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		filter.From = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		filter.To = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	events, err := s.events.FindEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	result := make([]EventInfo, 0, len(events))
	for _, e := range events {
		result = append(result, EventInfo{
			ID:                 e.ID,
			EventUUID:          e.EventUUID.String(),
			GateID:             e.GateID,
			CameraID:           e.CameraID,
			TrackID:            e.TrackID,
			Direction:          e.Direction,
			VehicleType:        e.VehicleType,
			Confidence:         e.Confidence,
			PlateNumber:        e.PlateNumber,
			BarcodeValue:       e.BarcodeValue,
			MaterialType:       e.MaterialType,
			MaterialConfidence: e.MaterialConfidence,
			LoadPercentage:     e.LoadPercentage,
			LoadLabel:          e.LoadLabel,
			SnapshotURL:        e.SnapshotURL,
			LoadCropURL:        e.LoadCropURL,
			EventTime:          e.EventTime,
		})
	}
	return result, nil
}

func (s *EventService) ListGates(ctx context.Context) ([]repository.Gate, error) {
	gates, err := s.cameras.ListGates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	return gates, nil
}

func (s *EventService) ListCameras(ctx context.Context) ([]repository.Camera, error) {
	cameras, err := s.cameras.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

func (s *EventService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	deleted, err := s.events.DeleteOldEvents(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old events")
	}
	return deleted, nil
}

type EventInfo struct {
	ID                 int64     `json:"id"`
	EventUUID          string    `json:"event_uuid"`
	GateID             int64     `json:"gate_id"`
	CameraID           int64     `json:"camera_id"`
	TrackID            *int64    `json:"track_id,omitempty"`
	Direction          string    `json:"direction"`
	VehicleType        *string   `json:"vehicle_type,omitempty"`
	Confidence         *float64  `json:"confidence,omitempty"`
	PlateNumber        *string   `json:"plate_number,omitempty"`
	BarcodeValue       *string   `json:"barcode_value,omitempty"`
	MaterialType       *string   `json:"material_type,omitempty"`
	MaterialConfidence *float64  `json:"material_confidence,omitempty"`
	LoadPercentage     *float64  `json:"load_percentage,omitempty"`
	LoadLabel          *string   `json:"load_label,omitempty"`
	SnapshotURL        *string   `json:"snapshot_url,omitempty"`
	LoadCropURL        *string   `json:"load_crop_url,omitempty"`
	EventTime          time.Time `json:"event_time"`
}
