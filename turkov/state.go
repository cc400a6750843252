package turkov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// GetDeviceState fetches a single device's state blob from the cloud.
//
// The wire format is a protocol quirk preserved as-is: the response is a
// JSON array whose last element is a JSON-encoded string that decodes again
// into the state object. Any deviation is a protocol error, logged with the
// raw payload.
//
// A nil map with a nil error means the state was not modified since the last
// fetch (conditional-request hit; only possible when force is false).
func (c *Client) GetDeviceState(ctx context.Context, deviceID string, force bool) (map[string]any, error) {
	var state map[string]any
	err := c.withAuth(ctx, func(ctx context.Context) error {
		var err error
		state, err = c.getDeviceState(ctx, deviceID, force)
		return err
	})
	return state, err
}

func (c *Client) getDeviceState(ctx context.Context, deviceID string, force bool) (map[string]any, error) {
	c.log.Debug("fetching device state", "device_id", maskID(deviceID))

	tag := "device_state__" + deviceID
	requestTag := tag
	if force {
		requestTag = ""
	}

	endpoint := c.baseURL + "/user/devices?device=" + url.QueryEscape(deviceID+"_state")
	req, err := c.newAuthedRequest(ctx, http.MethodGet, endpoint, nil, requestTag)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if !force && resp.StatusCode == http.StatusNotModified {
		c.log.Debug("device state not modified, no updates", "device_id", maskID(deviceID))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := checkStatus(resp, body); err != nil {
		return nil, err
	}

	state, err := decodeDeviceState(body)
	if err != nil {
		c.log.Error("failed to decode device state",
			"device_id", maskID(deviceID), "payload", string(body))
		return nil, err
	}

	c.storeValidator(tag, resp.Header.Get("ETag"))
	return state, nil
}

// decodeDeviceState unwraps the double-encoded cloud state payload.
func decodeDeviceState(body []byte) (map[string]any, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return nil, fmt.Errorf("%w: improper device data format", ErrProtocol)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: missing device data", ErrProtocol)
	}

	var encoded string
	if err := json.Unmarshal(elements[len(elements)-1], &encoded); err != nil {
		return nil, fmt.Errorf("%w: improper device data format", ErrProtocol)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(encoded), &state); err != nil {
		return nil, fmt.Errorf("%w: improper device data encoding", ErrProtocol)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: improper device data format", ErrProtocol)
	}
	return state, nil
}

// SetDeviceValue posts a single key/value command to a device through the
// cloud. The server acknowledges with {"message":"success"}.
func (c *Client) SetDeviceValue(ctx context.Context, deviceID, key string, value any) error {
	return c.withAuth(ctx, func(ctx context.Context) error {
		return c.setDeviceValue(ctx, deviceID, key, value)
	})
}

func (c *Client) setDeviceValue(ctx context.Context, deviceID, key string, value any) error {
	c.log.Debug("sending device command",
		"device_id", maskID(deviceID), "key", key, "value", value)

	body, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return err
	}

	req, err := c.newAuthedRequest(ctx, http.MethodPost, c.baseURL+"/user/device/"+deviceID, bytes.NewReader(body), "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		commandFailure.Inc()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		commandFailure.Inc()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := checkStatus(resp, respBody); err != nil {
		commandFailure.Inc()
		return err
	}

	var ack commandResponse
	if err := json.Unmarshal(respBody, &ack); err != nil {
		commandFailure.Inc()
		return fmt.Errorf("%w: decoding command response: %s", ErrProtocol, string(respBody))
	}
	if ack.Message == "" {
		commandFailure.Inc()
		return fmt.Errorf("%w: response contains no message: %s", ErrProtocol, string(respBody))
	}
	if ack.Message != "success" {
		commandFailure.Inc()
		return fmt.Errorf("command rejected: %s", ack.Message)
	}

	commandSuccess.Inc()
	return nil
}
