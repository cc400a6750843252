package turkov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultLocalPort = 80

// Device is one climate unit. It is operable through the owning cloud client,
// through a local network address, or both; with both configured the local
// path is tried first and the cloud is the fallback.
//
// Metadata fields are maintained by the registry's user-data sync. State
// attribute pointers are nil until the first reconciliation; UpdateState is
// not safe for concurrent calls on the same device.
type Device struct {
	id         string
	client     *Client
	httpClient *http.Client
	log        *slog.Logger

	host string
	port int

	SerialNumber    string
	PIN             string
	Type            string
	Name            string
	FirmwareVersion string

	IsOn                 *bool
	FanSpeed             *string
	FanMode              *string
	TargetTemperature    *float64
	SelectedMode         *string
	Setup                *string
	FilterLifePercentage *float64
	OutdoorTemperature   *float64
	IndoorTemperature    *float64
	IndoorHumidity       *float64
	ExhaustTemperature   *float64
	AirPressure          *float64
	CO2Level             *float64
	CurrentTemperature   *float64
	CurrentHumidity      *float64
	TargetHumidity       *int64
	Fireplace            *bool
	Humidifier           *bool
	FirstRelay           *bool
	FirstRelayName       *string
	SecondRelay          *bool
	SecondRelayName      *string
	ImageURL             *string
}

// DeviceConfig configures a standalone device, one created outside a client's
// registry. At least a cloud client or a local host must be given.
type DeviceConfig struct {
	ID     string
	Client *Client

	Host string
	Port int

	HTTPClient *http.Client
	Logger     *slog.Logger

	SerialNumber    string
	PIN             string
	Type            string
	Name            string
	FirmwareVersion string
}

// NewDevice builds a standalone device.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Client != nil && cfg.ID == "" {
		return nil, fmt.Errorf("%w: device id is required with a cloud client", ErrValidation)
	}
	if cfg.Client == nil && cfg.Host == "" {
		return nil, fmt.Errorf("%w: device needs a cloud client or a local host", ErrValidation)
	}

	port := cfg.Port
	if port == 0 {
		port = defaultLocalPort
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port must be within [1:65535]", ErrValidation)
	}

	logger := cfg.Logger
	if logger == nil {
		if cfg.Client != nil {
			logger = cfg.Client.log
		} else {
			logger = slog.Default()
		}
	}

	return &Device{
		id:              cfg.ID,
		client:          cfg.Client,
		httpClient:      cfg.HTTPClient,
		log:             logger.With("device_id", maskID(cfg.ID)),
		host:            cfg.Host,
		port:            port,
		SerialNumber:    cfg.SerialNumber,
		PIN:             cfg.PIN,
		Type:            cfg.Type,
		Name:            cfg.Name,
		FirmwareVersion: cfg.FirmwareVersion,
	}, nil
}

// newRegistryDevice is used by the user-data sync when a new id appears.
func newRegistryDevice(id string, client *Client) *Device {
	return &Device{
		id:     id,
		client: client,
		log:    client.log.With("device_id", maskID(id)),
		port:   defaultLocalPort,
	}
}

func (d *Device) ID() string      { return d.id }
func (d *Device) Client() *Client { return d.client }
func (d *Device) Host() string    { return d.host }
func (d *Device) Port() int       { return d.port }

// SetLocalAddress attaches (or with an empty host, detaches) a local network
// endpoint. A zero port keeps the current one.
func (d *Device) SetLocalAddress(host string, port int) error {
	if port != 0 {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: port must be within [1:65535]", ErrValidation)
		}
		d.port = port
	}
	d.host = host
	return nil
}

// LocalBaseURL returns the device's local endpoint root.
func (d *Device) LocalBaseURL() (string, error) {
	if d.host == "" {
		return "", fmt.Errorf("%w: host not set", ErrValidation)
	}
	return fmt.Sprintf("http://%s:%d", d.host, d.port), nil
}

func (d *Device) transport() *http.Client {
	if d.httpClient != nil {
		return d.httpClient
	}
	if d.client != nil {
		return d.client.httpClient
	}
	return http.DefaultClient
}

// GetStateLocal fetches the state object from the device's local endpoint.
// Unlike the cloud path the payload is a plain JSON object.
func (d *Device) GetStateLocal(ctx context.Context) (map[string]any, error) {
	base, err := d.LocalBaseURL()
	if err != nil {
		return nil, err
	}

	endpoint := base + "/state"
	d.log.Debug("requesting state locally", "url", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.transport().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := checkStatus(resp, body); err != nil {
		return nil, err
	}

	var state map[string]any
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: decoding local state: %v", ErrProtocol, err)
	}
	return state, nil
}

// GetState fetches the device state: local endpoint first when a host is set,
// cloud as the one-shot fallback when a client is also attached. A nil map
// with nil error means a conditional-request hit (cloud path, force false).
func (d *Device) GetState(ctx context.Context, force bool) (map[string]any, error) {
	if d.host != "" {
		state, err := d.GetStateLocal(ctx)
		if err == nil {
			return state, nil
		}
		if d.client == nil || ctx.Err() != nil {
			return nil, err
		}
		d.log.Warn("local state fetch failed, falling back to cloud", "error", err)
	}

	if d.client != nil {
		return d.client.GetDeviceState(ctx, d.id, force)
	}

	return nil, fmt.Errorf("no method to fetch device state")
}

// SetValueLocal posts a single key/value command to the local endpoint.
func (d *Device) SetValueLocal(ctx context.Context, key string, value any) error {
	base, err := d.LocalBaseURL()
	if err != nil {
		return err
	}

	endpoint := base + "/command"
	d.log.Debug("sending local command", "url", endpoint, "key", key, "value", value)

	body, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.transport().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return checkStatus(resp, respBody)
}

// SetValue sends a command with the same local-then-cloud policy as GetState.
func (d *Device) SetValue(ctx context.Context, key string, value any) error {
	if d.host != "" {
		err := d.SetValueLocal(ctx, key, value)
		if err == nil {
			return nil
		}
		if d.client == nil || ctx.Err() != nil {
			return err
		}
		d.log.Warn("local command failed, falling back to cloud", "error", err)
	}

	if d.client != nil {
		return d.client.SetDeviceValue(ctx, d.id, key, value)
	}

	return fmt.Errorf("no method to set device values")
}

// TurnOn powers the unit on.
func (d *Device) TurnOn(ctx context.Context) error {
	return d.SetValue(ctx, "on", "true")
}

// TurnOff powers the unit off.
func (d *Device) TurnOff(ctx context.Context) error {
	return d.SetValue(ctx, "on", "false")
}

// Toggle flips the power state based on the last reconciled value.
func (d *Device) Toggle(ctx context.Context) error {
	if d.IsOn != nil && *d.IsOn {
		return d.TurnOff(ctx)
	}
	return d.TurnOn(ctx)
}

// SetFanSpeed accepts "auto" or the discrete steps "0" through "3".
func (d *Device) SetFanSpeed(ctx context.Context, fanSpeed string) error {
	switch fanSpeed {
	case "auto", "0", "1", "2", "3":
	default:
		return fmt.Errorf("%w: fan speed must be auto or 0-3, got %q", ErrValidation, fanSpeed)
	}
	return d.SetValue(ctx, "fan_speed", fanSpeed)
}

// SetTargetTemperature accepts whole degrees Celsius within [15,50].
func (d *Device) SetTargetTemperature(ctx context.Context, target int) error {
	if target < 15 || target > 50 {
		return fmt.Errorf("%w: target temperature %d out of [15,50]", ErrValidation, target)
	}
	return d.SetValue(ctx, "temp_sp", target)
}

// SetTargetHumidity accepts whole percent within [40,100].
func (d *Device) SetTargetHumidity(ctx context.Context, target int) error {
	if target < 40 || target > 100 {
		return fmt.Errorf("%w: target humidity %d out of [40,100]", ErrValidation, target)
	}
	return d.SetValue(ctx, "hum_sp", target)
}

// SetFireplace enables or disables fireplace mode.
func (d *Device) SetFireplace(ctx context.Context, enable bool) error {
	return d.SetValue(ctx, "firep", enable)
}

// SetHumidifier enables or disables the humidifier.
func (d *Device) SetHumidifier(ctx context.Context, enable bool) error {
	return d.SetValue(ctx, "humib", enable)
}

// SetFirstRelay switches the first auxiliary relay.
func (d *Device) SetFirstRelay(ctx context.Context, enable bool) error {
	return d.SetValue(ctx, "relay_1", enable)
}

// SetSecondRelay switches the second auxiliary relay.
func (d *Device) SetSecondRelay(ctx context.Context, enable bool) error {
	return d.SetValue(ctx, "relay_2", enable)
}

// SetFirstRelayName renames the first auxiliary relay.
func (d *Device) SetFirstRelayName(ctx context.Context, name string) error {
	return d.SetValue(ctx, "relay_1_name", name)
}

// SetSecondRelayName renames the second auxiliary relay.
func (d *Device) SetSecondRelayName(ctx context.Context, name string) error {
	return d.SetValue(ctx, "relay_2_name", name)
}

// HasHeater reports whether the unit's setup includes heating. An unknown
// setup is treated as capable.
func (d *Device) HasHeater() bool {
	return d.Setup == nil || *d.Setup == "heating" || *d.Setup == "both"
}

// HasCooler reports whether the unit's setup includes cooling.
func (d *Device) HasCooler() bool {
	return d.Setup == nil || *d.Setup == "cooling" || *d.Setup == "both"
}

// IsHeaterOn reports whether the selected mode is heating.
func (d *Device) IsHeaterOn() bool {
	return d.SelectedMode != nil && *d.SelectedMode == "heating"
}

// IsCoolerOn reports whether the selected mode is cooling.
func (d *Device) IsCoolerOn() bool {
	return d.SelectedMode != nil && *d.SelectedMode == "cooling"
}

// TurnOffHVAC selects the neutral ventilation-only mode.
func (d *Device) TurnOffHVAC(ctx context.Context) error {
	return d.SetValue(ctx, "mode", "0")
}

// TurnOnHeater selects heating mode.
func (d *Device) TurnOnHeater(ctx context.Context) error {
	return d.SetValue(ctx, "mode", "1")
}

// TurnOnCooler selects cooling mode.
func (d *Device) TurnOnCooler(ctx context.Context) error {
	return d.SetValue(ctx, "mode", "2")
}

// ToggleHeater flips heating on or off based on the last reconciled mode.
func (d *Device) ToggleHeater(ctx context.Context) error {
	if d.IsHeaterOn() {
		return d.TurnOffHVAC(ctx)
	}
	return d.TurnOnHeater(ctx)
}

// ToggleCooler flips cooling on or off based on the last reconciled mode.
func (d *Device) ToggleCooler(ctx context.Context) error {
	if d.IsCoolerOn() {
		return d.TurnOffHVAC(ctx)
	}
	return d.TurnOnCooler(ctx)
}
