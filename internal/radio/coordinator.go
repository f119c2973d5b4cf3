// Package radio implements the radio coordinator: validates Thread/Wi-Fi
// configuration requests, publishes canonical events on the bus, and keeps
// a last-writer-wins in-memory snapshot of the current radio configuration.
package radio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/bus"
)

// ThreadDatasetRequest is the body of POST /v1/thread/dataset.
type ThreadDatasetRequest struct {
	DatasetID   string `json:"datasetId"`
	NetworkName string `json:"networkName"`
	Channel     int    `json:"channel"`
	PanID       string `json:"panId"`
	XPanID      string `json:"xpanId,omitempty"`
	MasterKey   string `json:"masterKey,omitempty"`
	PSKc        string `json:"pskc,omitempty"`
}

// ThreadChannelRequest is the body of POST /v1/thread/channel.
type ThreadChannelRequest struct {
	Channel   int    `json:"channel"`
	DatasetID string `json:"datasetId,omitempty"`
}

// WifiConfigRequest is the body of POST /v1/wifi/config.
type WifiConfigRequest struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase,omitempty"`
	Security   string `json:"security,omitempty"`
	Band       string `json:"band,omitempty"`
	Channel    int    `json:"channel,omitempty"`
}

// WifiChannelRequest is the body of POST /v1/wifi/channel.
type WifiChannelRequest struct {
	Channel int    `json:"channel"`
	Band    string `json:"band,omitempty"`
}

// Acknowledgement is the 202 response body for every mutating endpoint.
type Acknowledgement struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// ThreadDatasetSnapshot is the radio map's current Thread dataset.
type ThreadDatasetSnapshot struct {
	DatasetID   string    `json:"datasetId"`
	NetworkName string    `json:"networkName"`
	Channel     int       `json:"channel"`
	PanID       string    `json:"panId"`
	XPanID      string    `json:"xpanId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ThreadChannelSnapshot is the radio map's current Thread channel.
type ThreadChannelSnapshot struct {
	Channel   int       `json:"channel"`
	DatasetID string    `json:"datasetId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WifiConfigSnapshot is the radio map's current Wi-Fi configuration.
type WifiConfigSnapshot struct {
	SSID      string    `json:"ssid"`
	Security  string    `json:"security"`
	Band      string    `json:"band,omitempty"`
	Channel   int       `json:"channel,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WifiChannelSnapshot is the radio map's current Wi-Fi channel.
type WifiChannelSnapshot struct {
	Channel   int       `json:"channel"`
	Band      string    `json:"band,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Map is the coordinator's last-writer-wins view of the radio configuration.
type Map struct {
	Thread struct {
		Dataset *ThreadDatasetSnapshot `json:"dataset,omitempty"`
		Channel *ThreadChannelSnapshot `json:"channel,omitempty"`
	} `json:"thread"`
	Wifi struct {
		Config  *WifiConfigSnapshot  `json:"config,omitempty"`
		Channel *WifiChannelSnapshot `json:"channel,omitempty"`
	} `json:"wifi"`
}

// Coordinator validates radio configuration requests, publishes events, and
// maintains the radio map behind a reader-writer lock: snapshots never
// block each other, only mutations serialize.
type Coordinator struct {
	mu  sync.RWMutex
	m   Map
	bus bus.Bus
}

// NewCoordinator builds a Coordinator publishing onto the given bus.
func NewCoordinator(b bus.Bus) *Coordinator {
	return &Coordinator{bus: b}
}

// Snapshot returns a copy of the current radio map.
func (c *Coordinator) Snapshot() Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m
}

func (c *Coordinator) publish(ctx context.Context, subject string, event map[string]interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Internal("encode radio event", err)
	}
	if err := c.bus.Publish(ctx, subject, payload); err != nil {
		return apperrors.Upstream("publish radio event", err)
	}
	return nil
}

// ApplyThreadDataset validates, publishes, and records a new Thread dataset.
func (c *Coordinator) ApplyThreadDataset(ctx context.Context, req ThreadDatasetRequest) (Acknowledgement, error) {
	if err := validateThreadDataset(req); err != nil {
		return Acknowledgement{}, err
	}

	event := map[string]interface{}{
		"action":      "thread.dataset.apply",
		"datasetId":   req.DatasetID,
		"networkName": req.NetworkName,
		"channel":     req.Channel,
		"panId":       req.PanID,
	}
	if req.XPanID != "" {
		event["xpanId"] = req.XPanID
	}
	if err := c.publish(ctx, "radio.thread.dataset.set", event); err != nil {
		return Acknowledgement{}, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.m.Thread.Dataset = &ThreadDatasetSnapshot{
		DatasetID:   req.DatasetID,
		NetworkName: req.NetworkName,
		Channel:     req.Channel,
		PanID:       req.PanID,
		XPanID:      req.XPanID,
		UpdatedAt:   now,
	}
	c.m.Thread.Channel = &ThreadChannelSnapshot{
		Channel:   req.Channel,
		DatasetID: req.DatasetID,
		UpdatedAt: now,
	}
	c.mu.Unlock()

	return Acknowledgement{Accepted: true, Message: "thread dataset accepted"}, nil
}

// UpdateThreadChannel validates, publishes, and records a Thread channel change.
func (c *Coordinator) UpdateThreadChannel(ctx context.Context, req ThreadChannelRequest) (Acknowledgement, error) {
	if err := validateThreadChannel(req); err != nil {
		return Acknowledgement{}, err
	}

	event := map[string]interface{}{
		"action":  "thread.channel.update",
		"channel": req.Channel,
	}
	if req.DatasetID != "" {
		event["datasetId"] = req.DatasetID
	}
	if err := c.publish(ctx, "radio.thread.channel.set", event); err != nil {
		return Acknowledgement{}, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.m.Thread.Channel = &ThreadChannelSnapshot{
		Channel:   req.Channel,
		DatasetID: req.DatasetID,
		UpdatedAt: now,
	}
	if c.m.Thread.Dataset != nil {
		c.m.Thread.Dataset.Channel = req.Channel
		c.m.Thread.Dataset.UpdatedAt = now
	}
	c.mu.Unlock()

	return Acknowledgement{Accepted: true, Message: "thread channel update accepted"}, nil
}

// ApplyWifiConfig validates, publishes, and records a new Wi-Fi configuration.
func (c *Coordinator) ApplyWifiConfig(ctx context.Context, req WifiConfigRequest) (Acknowledgement, error) {
	if err := validateWifiConfig(req); err != nil {
		return Acknowledgement{}, err
	}

	security := req.Security
	if security == "" {
		security = "wpa2"
	}

	event := map[string]interface{}{
		"action":   "wifi.config.apply",
		"ssid":     req.SSID,
		"security": security,
	}
	if req.Band != "" {
		event["band"] = req.Band
	}
	if req.Channel != 0 {
		event["channel"] = req.Channel
	}
	if err := c.publish(ctx, "radio.wifi.config.set", event); err != nil {
		return Acknowledgement{}, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.m.Wifi.Config = &WifiConfigSnapshot{
		SSID:      req.SSID,
		Security:  security,
		Band:      req.Band,
		Channel:   req.Channel,
		UpdatedAt: now,
	}
	if req.Channel != 0 {
		c.m.Wifi.Channel = &WifiChannelSnapshot{
			Channel:   req.Channel,
			Band:      req.Band,
			UpdatedAt: now,
		}
	}
	c.mu.Unlock()

	return Acknowledgement{Accepted: true, Message: "wifi configuration accepted"}, nil
}

// UpdateWifiChannel validates, publishes, and records a Wi-Fi channel change.
func (c *Coordinator) UpdateWifiChannel(ctx context.Context, req WifiChannelRequest) (Acknowledgement, error) {
	if err := validateWifiChannel(req); err != nil {
		return Acknowledgement{}, err
	}

	event := map[string]interface{}{
		"action":  "wifi.channel.update",
		"channel": req.Channel,
	}
	if req.Band != "" {
		event["band"] = req.Band
	}
	if err := c.publish(ctx, "radio.wifi.channel.set", event); err != nil {
		return Acknowledgement{}, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.m.Wifi.Channel = &WifiChannelSnapshot{
		Channel:   req.Channel,
		Band:      req.Band,
		UpdatedAt: now,
	}
	c.mu.Unlock()

	return Acknowledgement{Accepted: true, Message: "wifi channel update accepted"}, nil
}
