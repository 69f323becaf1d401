// Package identify is the boundary to plate OCR and barcode decoding.
package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
)

// Mode selects which identifiers to run against a vehicle crop.
type Mode string

const (
	ModeANPR    Mode = "ANPR"
	ModeBarcode Mode = "BARCODE"
	ModeBoth    Mode = "BOTH"
)

func ParseMode(s string) Mode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BARCODE":
		return ModeBarcode
	case "BOTH":
		return ModeBoth
	default:
		return ModeANPR
	}
}

// Result holds whatever the identification service could read; either field
// may be nil.
type Result struct {
	Plate   *string `json:"plate"`
	Barcode *string `json:"barcode"`
}

type Identifier interface {
	Identify(ctx context.Context, crop []byte, mode Mode) (Result, error)
}

// New selects the identification backend, degrading to Unavailable when no
// service is configured.
func New(cfg config.IdentificationConfig, log zerolog.Logger) Identifier {
	if cfg.URL == "" {
		log.Info().Msg("identification disabled, plates and barcodes stay empty")
		return Unavailable{}
	}
	log.Info().Str("url", cfg.URL).Str("mode", cfg.Mode).Msg("using http identifier")
	return &httpIdentifier{
		url:       cfg.URL,
		plateConf: cfg.PlateConf,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Unavailable always returns the empty result.
type Unavailable struct{}

func (Unavailable) Identify(context.Context, []byte, Mode) (Result, error) {
	return Result{}, nil
}

type httpIdentifier struct {
	url       string
	plateConf float64
	client    *http.Client
}

func (i *httpIdentifier) Identify(ctx context.Context, crop []byte, mode Mode) (Result, error) {
	if len(crop) == 0 {
		return Result{}, nil
	}
	url := fmt.Sprintf("%s/identify?mode=%s&plate_conf=%g", i.url, mode, i.plateConf)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(crop))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := i.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("identification request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("identification: status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("identification response: %w", err)
	}
	return res, nil
}
