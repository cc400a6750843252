package turkov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const userDataTag = "user_data"

// UpdateUserData fetches the account profile and device list and reconciles
// the device registry against it. With force the conditional-request
// validator is bypassed; otherwise a 304 response is a no-op.
//
// Devices reported for the first time are created; known devices have any
// present metadata fields applied; devices absent from the response are
// removed from the registry.
func (c *Client) UpdateUserData(ctx context.Context, force bool) error {
	return c.withAuth(ctx, func(ctx context.Context) error {
		return c.updateUserData(ctx, force)
	})
}

func (c *Client) updateUserData(ctx context.Context, force bool) error {
	c.log.Debug("updating user information and device list")

	tag := userDataTag
	requestTag := tag
	if force {
		requestTag = ""
	}

	req, err := c.newAuthedRequest(ctx, http.MethodGet, c.baseURL+"/user", nil, requestTag)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if !force && resp.StatusCode == http.StatusNotModified {
		c.log.Debug("user data not modified, no updates")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := checkStatus(resp, body); err != nil {
		return err
	}

	var userData userResponse
	if err := json.Unmarshal(body, &userData); err != nil {
		c.log.Error("malformed user data payload", "payload", string(body))
		return fmt.Errorf("%w: decoding user data: %v", ErrProtocol, err)
	}
	if userData.Devices == nil {
		c.log.Error("user data payload has no device list", "payload", string(body))
		return fmt.Errorf("%w: user data contains no device list", ErrProtocol)
	}

	c.mu.Lock()
	if userData.UserEmail != "" {
		c.email = userData.UserEmail
	}
	c.firstName = userData.FirstName
	c.lastName = userData.LastName
	c.middleName = userData.FathersName

	leftover := make(map[string]struct{}, len(c.devices))
	for id := range c.devices {
		leftover[id] = struct{}{}
	}

	for _, entry := range userData.Devices {
		if entry.ID == "" {
			c.log.Warn("device entry has no id, skipping", "entry", rawEntry(entry))
			continue
		}
		delete(leftover, entry.ID)

		device, ok := c.devices[entry.ID]
		if !ok {
			c.log.Info("discovered new device", "device_id", maskID(entry.ID))
			device = newRegistryDevice(entry.ID, c)
			c.devices[entry.ID] = device
		}

		if entry.DeviceType != nil {
			device.Type = *entry.DeviceType
		}
		if entry.DeviceName != nil {
			device.Name = *entry.DeviceName
		}
		if entry.SerialNumber != nil {
			device.SerialNumber = *entry.SerialNumber
		}
		if entry.PIN != nil {
			device.PIN = *entry.PIN
		}
		if entry.FirmwareVersion != nil {
			device.FirmwareVersion = *entry.FirmwareVersion
		}
	}

	for id := range leftover {
		c.log.Info("discarding device no longer reported", "device_id", maskID(id))
		delete(c.devices, id)
	}
	c.mu.Unlock()

	c.storeValidator(tag, resp.Header.Get("ETag"))
	return nil
}

func rawEntry(entry deviceEntry) string {
	data, err := json.Marshal(entry)
	if err != nil {
		return "<unencodable>"
	}
	return string(data)
}
