package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gatewatch/internal/geom"
)

type CameraRepository struct {
	db *gorm.DB
}

func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{db: db}
}

type Gate struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	ANPREnabled    bool   `gorm:"column:anpr_enabled" json:"anpr_enabled"`
	BarcodeEnabled bool   `json:"barcode_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

type Camera struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	GateID          int64      `gorm:"not null" json:"gate_id"`
	Name            string     `gorm:"not null" json:"name"`
	SourceURL       string     `gorm:"not null" json:"source_url"`
	IsActive        bool       `json:"is_active"`
	InvertDirection bool       `json:"invert_direction"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ROI struct {
	ID          int64          `gorm:"primaryKey"`
	GateID      int64          `gorm:"not null"`
	CameraID    int64          `gorm:"not null"`
	Shape       string         `gorm:"not null"`
	Coordinates datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time
}

// ActiveCamera is one runnable camera joined with its gate name.
type ActiveCamera struct {
	ID              int64
	GateID          int64
	GateName        string
	Name            string
	SourceURL       string
	InvertDirection bool
}

func (r *CameraRepository) ListGates(ctx context.Context) ([]Gate, error) {
	var gates []Gate
	err := r.db.WithContext(ctx).Order("id").Find(&gates).Error
	return gates, err
}

func (r *CameraRepository) ListCameras(ctx context.Context) ([]Camera, error) {
	var cameras []Camera
	err := r.db.WithContext(ctx).Order("id").Find(&cameras).Error
	return cameras, err
}

func (r *CameraRepository) ListActiveCameras(ctx context.Context) ([]ActiveCamera, error) {
	var cams []ActiveCamera
	err := r.db.WithContext(ctx).
		Table("cameras").
		Select("cameras.id, cameras.gate_id, gates.name as gate_name, cameras.name, cameras.source_url, cameras.invert_direction").
		Joins("JOIN gates ON cameras.gate_id = gates.id").
		Where("cameras.is_active = ?", true).
		Order("cameras.id").
		Scan(&cams).Error
	return cams, err
}

// GetROI returns the crossing region for a (gate, camera) pair, or nil when
// none is configured.
func (r *CameraRepository) GetROI(ctx context.Context, gateID, cameraID int64) (*geom.ROI, error) {
	var roi ROI
	err := r.db.WithContext(ctx).
		Where("gate_id = ? AND camera_id = ?", gateID, cameraID).
		First(&roi).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var coords [][2]float64
	if err := json.Unmarshal(roi.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("decode roi coordinates: %w", err)
	}
	points := make([]geom.Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, geom.Point{X: c[0], Y: c[1]})
	}
	return &geom.ROI{Shape: geom.ROIShape(roi.Shape), Points: points}, nil
}

func (r *CameraRepository) UpdateLastSeen(ctx context.Context, cameraID int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Camera{}).
		Where("id = ?", cameraID).
		Update("last_seen", at).Error
}
