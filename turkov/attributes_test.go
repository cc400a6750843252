package turkov

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statefulDevice serves a swappable local state payload.
type statefulDevice struct {
	device  *Device
	payload atomic.Value
}

func newStatefulDevice(t *testing.T, initial string) *statefulDevice {
	t.Helper()

	sd := &statefulDevice{}
	sd.payload.Store(initial)

	device, _ := newLocalDevice(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, sd.payload.Load().(string))
	}))
	sd.device = device
	return sd
}

func TestUpdateStateReconcilesAttributes(t *testing.T) {
	sd := newStatefulDevice(t, `{
		"on": "true",
		"fan_speed": "2",
		"temp_sp": "23",
		"mode": "heating",
		"out_temp": "215",
		"in_humid": 450,
		"hum_sp": "60",
		"firep": "false",
		"relay_1": "1",
		"relay_1_name": "Boiler"
	}`)
	device := sd.device

	changed, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)

	// Change set follows the fixed attribute order.
	assert.Equal(t, []Attribute{
		AttrIsOn, AttrFanSpeed, AttrTargetTemperature, AttrSelectedMode,
		AttrOutdoorTemperature, AttrIndoorHumidity, AttrTargetHumidity,
		AttrFireplace, AttrFirstRelay, AttrFirstRelayName,
	}, changed)

	require.NotNil(t, device.IsOn)
	assert.True(t, *device.IsOn)
	require.NotNil(t, device.FanSpeed)
	assert.Equal(t, "2", *device.FanSpeed)
	require.NotNil(t, device.TargetTemperature)
	assert.Equal(t, 23.0, *device.TargetTemperature)
	require.NotNil(t, device.OutdoorTemperature)
	assert.Equal(t, 21.5, *device.OutdoorTemperature)
	require.NotNil(t, device.IndoorHumidity)
	assert.Equal(t, 45.0, *device.IndoorHumidity)
	require.NotNil(t, device.TargetHumidity)
	assert.Equal(t, int64(60), *device.TargetHumidity)
	require.NotNil(t, device.Fireplace)
	assert.False(t, *device.Fireplace)
	require.NotNil(t, device.FirstRelay)
	assert.True(t, *device.FirstRelay)
	require.NotNil(t, device.FirstRelayName)
	assert.Equal(t, "Boiler", *device.FirstRelayName)

	// Untouched attributes stay unset.
	assert.Nil(t, device.CO2Level)
	assert.Nil(t, device.SecondRelay)

	// An identical payload produces no changes.
	changed, err = device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestUpdateStateReportsOnlyDifferences(t *testing.T) {
	sd := newStatefulDevice(t, `{"on": "true", "temp_sp": "23"}`)
	device := sd.device

	_, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)

	sd.payload.Store(`{"on": "true", "temp_sp": "25"}`)
	changed, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)
	assert.Equal(t, []Attribute{AttrTargetTemperature}, changed)
	assert.Equal(t, 25.0, *device.TargetTemperature)
}

func TestUpdateStateMarkAsNone(t *testing.T) {
	sd := newStatefulDevice(t, `{"on": "true", "temp_sp": "23"}`)
	device := sd.device

	_, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)

	// Without the flag an absent key keeps the prior value.
	sd.payload.Store(`{"on": "true"}`)
	changed, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.NotNil(t, device.TargetTemperature)

	// With the flag the attribute is cleared, once.
	changed, err = device.UpdateState(context.Background(), true, true)
	require.NoError(t, err)
	assert.Equal(t, []Attribute{AttrTargetTemperature}, changed)
	assert.Nil(t, device.TargetTemperature)

	changed, err = device.UpdateState(context.Background(), true, true)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestUpdateStateBadNumericValue(t *testing.T) {
	sd := newStatefulDevice(t, `{"out_temp": "warm"}`)

	_, err := sd.device.UpdateState(context.Background(), false, true)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestResolveImageURL(t *testing.T) {
	t.Run("custom image builds upload url", func(t *testing.T) {
		sd := newStatefulDevice(t, `{"image": "front"}`)

		changed, err := sd.device.UpdateState(context.Background(), false, true)
		require.NoError(t, err)
		assert.Equal(t, []Attribute{AttrImageURL}, changed)
		require.NotNil(t, sd.device.ImageURL)
		assert.Equal(t, DefaultBaseURL+"/upload/dev-1_front.jpg", *sd.device.ImageURL)
	})

	t.Run("stock image by device type", func(t *testing.T) {
		sd := newStatefulDevice(t, `{}`)
		sd.device.Type = "Zenit"

		changed, err := sd.device.UpdateState(context.Background(), false, true)
		require.NoError(t, err)
		assert.Equal(t, []Attribute{AttrImageURL}, changed)
		require.NotNil(t, sd.device.ImageURL)
		assert.Equal(t, DefaultBaseURL+"/images/zenit.jpg", *sd.device.ImageURL)
	})

	t.Run("unknown type has no image", func(t *testing.T) {
		sd := newStatefulDevice(t, `{}`)
		sd.device.Type = "Prototype"

		changed, err := sd.device.UpdateState(context.Background(), false, true)
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Nil(t, sd.device.ImageURL)
	})

	t.Run("clear-absent mode only reports the transition to none", func(t *testing.T) {
		sd := newStatefulDevice(t, `{"image": "front"}`)

		_, err := sd.device.UpdateState(context.Background(), false, true)
		require.NoError(t, err)
		require.NotNil(t, sd.device.ImageURL)

		sd.payload.Store(`{}`)
		changed, err := sd.device.UpdateState(context.Background(), true, true)
		require.NoError(t, err)
		assert.Equal(t, []Attribute{AttrImageURL}, changed)
		assert.Nil(t, sd.device.ImageURL)
	})
}

func TestAttributesSnapshot(t *testing.T) {
	sd := newStatefulDevice(t, `{"on": "true", "temp_sp": "23", "hum_sp": "60"}`)
	device := sd.device

	assert.Empty(t, device.Attributes())

	_, err := device.UpdateState(context.Background(), false, true)
	require.NoError(t, err)

	attrs := device.Attributes()
	assert.Equal(t, true, attrs[AttrIsOn])
	assert.Equal(t, 23.0, attrs[AttrTargetTemperature])
	assert.Equal(t, int64(60), attrs[AttrTargetHumidity])
	assert.NotContains(t, attrs, AttrCO2Level)
}

func TestConverters(t *testing.T) {
	t.Run("tenths", func(t *testing.T) {
		got, err := convert(convTenths, "215")
		require.NoError(t, err)
		assert.Equal(t, 21.5, got)

		got, err = convert(convTenths, 215.0)
		require.NoError(t, err)
		assert.Equal(t, 21.5, got)
	})

	t.Run("int", func(t *testing.T) {
		got, err := convert(convInt, "60")
		require.NoError(t, err)
		assert.Equal(t, int64(60), got)

		_, err = convert(convInt, "sixty")
		require.Error(t, err)
	})

	t.Run("bool", func(t *testing.T) {
		cases := map[any]bool{
			"true":  true,
			"false": false,
			"0":     false,
			"1":     true,
			"on":    true,
			"":      false,
			1.0:     true,
			0.0:     false,
			true:    true,
		}
		for value, want := range cases {
			got, err := convert(convBool, value)
			require.NoError(t, err)
			assert.Equal(t, want, got, "value %v", value)
		}
	})

	t.Run("string", func(t *testing.T) {
		got, err := convert(convString, 2.0)
		require.NoError(t, err)
		assert.Equal(t, "2", got)

		got, err = convert(convString, "heating")
		require.NoError(t, err)
		assert.Equal(t, "heating", got)
	})
}
