// Package transport polls the vehicle's HTTP telemetry endpoint.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

// Path is the telemetry resource relative to the base URL.
const Path = "/getTelemetry"

// ErrBadStatus is returned when the endpoint answers with a non-2xx status.
var ErrBadStatus = errors.New("telemetry server status")

// Document is one telemetry response: the sample fields plus optional camera
// detections and position.
type Document struct {
	telemetry.Sample

	// CameraObjects is passed through untouched.
	CameraObjects json.RawMessage `json:"cameraObjects,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	// Older simulators report position as PosY (latitude) and PosX (longitude).
	PosX *float64 `json:"PosX,omitempty"`
	PosY *float64 `json:"PosY,omitempty"`
}

// Fix returns the document's position, if it carries one.
func (d Document) Fix() (telemetry.Fix, bool) {
	switch {
	case d.Lat != nil && d.Lon != nil:
		return telemetry.Fix{Lat: *d.Lat, Lon: *d.Lon}, true
	case d.PosY != nil && d.PosX != nil:
		return telemetry.Fix{Lat: *d.PosY, Lon: *d.PosX}, true
	default:
		return telemetry.Fix{}, false
	}
}

// Poller fetches documents from one base URL.
type Poller struct {
	client   *resty.Client
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPoller returns a Poller for baseURL that fetches every interval.
func NewPoller(baseURL string, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Each request gets at most one interval; the next tick is the retry.
	timeout := interval
	if timeout < time.Second {
		timeout = time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-cache").
		SetHeader("Pragma", "no-cache")

	return &Poller{client: client, interval: interval, logger: logger, now: time.Now}
}

// Fetch performs one request. The t query parameter defeats caches.
func (p *Poller) Fetch(ctx context.Context) (Document, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("t", strconv.FormatInt(p.now().UnixMilli(), 10)).
		Get(Path)
	if err != nil {
		return Document{}, fmt.Errorf("fetch telemetry: %w", err)
	}
	if !resp.IsSuccess() {
		return Document{}, fmt.Errorf("%w %d", ErrBadStatus, resp.StatusCode())
	}

	var doc Document
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return Document{}, fmt.Errorf("decode telemetry: %w", err)
	}
	return doc, nil
}

// Run fetches immediately and then every interval until ctx is done, sending
// each document on out. Failures are logged and polling continues.
func (p *Poller) Run(ctx context.Context, out chan<- Document) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failing := false
	for {
		doc, err := p.Fetch(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			if !failing {
				p.logger.Warn("telemetry poll failing", zap.Error(err))
				failing = true
			} else {
				p.logger.Debug("telemetry poll failed", zap.Error(err))
			}
		default:
			if failing {
				p.logger.Info("telemetry poll recovered")
				failing = false
			}
			select {
			case out <- doc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
