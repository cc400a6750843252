package turkov

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	authSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turkov_auth_success_total",
		Help: "Successful token exchanges",
	})
	authFallback = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turkov_auth_fallback_total",
		Help: "Refresh exchanges that fell back to credential auth",
	})
	commandSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turkov_command_success_total",
		Help: "Successful cloud device commands",
	})
	commandFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turkov_command_failure_total",
		Help: "Failed cloud device commands",
	})
)

// EventCollectors returns the counters incremented by client operations.
func EventCollectors() []prometheus.Collector {
	return []prometheus.Collector{authSuccess, authFallback, commandSuccess, commandFailure}
}

// MetricsCollector polls the registry on scrape and exports device state.
type MetricsCollector struct {
	client *Client

	powerOn     *prometheus.GaugeVec
	targetTemp  *prometheus.GaugeVec
	outdoorTemp *prometheus.GaugeVec
	indoorTemp  *prometheus.GaugeVec
	currentTemp *prometheus.GaugeVec
	exhaustTemp *prometheus.GaugeVec
	indoorHum   *prometheus.GaugeVec
	currentHum  *prometheus.GaugeVec
	targetHum   *prometheus.GaugeVec
	airPressure *prometheus.GaugeVec
	co2         *prometheus.GaugeVec
	filterLife  *prometheus.GaugeVec
	fireplace   *prometheus.GaugeVec
	humidifier  *prometheus.GaugeVec
	firstRelay  *prometheus.GaugeVec
	secondRelay *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}

	return &MetricsCollector{
		client:      client,
		powerOn:     gauge("turkov_power_on_bool", "Unit power state (1=on, 0=off)"),
		targetTemp:  gauge("turkov_target_temperature_celsius", "Target temperature"),
		outdoorTemp: gauge("turkov_outdoor_temperature_celsius", "Outdoor air temperature"),
		indoorTemp:  gauge("turkov_indoor_temperature_celsius", "Indoor air temperature"),
		currentTemp: gauge("turkov_current_temperature_celsius", "Current temperature"),
		exhaustTemp: gauge("turkov_exhaust_temperature_celsius", "Exhaust air temperature"),
		indoorHum:   gauge("turkov_indoor_humidity_percent", "Indoor humidity"),
		currentHum:  gauge("turkov_current_humidity_percent", "Current humidity"),
		targetHum:   gauge("turkov_target_humidity_percent", "Target humidity"),
		airPressure: gauge("turkov_air_pressure", "Air pressure"),
		co2:         gauge("turkov_co2_level_ppm", "CO2 level"),
		filterLife:  gauge("turkov_filter_life_percent", "Remaining filter life"),
		fireplace:   gauge("turkov_fireplace_bool", "Fireplace mode (1=on, 0=off)"),
		humidifier:  gauge("turkov_humidifier_bool", "Humidifier (1=on, 0=off)"),
		firstRelay:  gauge("turkov_first_relay_bool", "First auxiliary relay (1=on, 0=off)"),
		secondRelay: gauge("turkov_second_relay_bool", "Second auxiliary relay (1=on, 0=off)"),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turkov_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turkov_scrape_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.powerOn, c.targetTemp, c.outdoorTemp, c.indoorTemp, c.currentTemp,
		c.exhaustTemp, c.indoorHum, c.currentHum, c.targetHum, c.airPressure,
		c.co2, c.filterLife, c.fireplace, c.humidifier, c.firstRelay, c.secondRelay,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.client.UpdateUserData(ctx, false); err != nil {
		c.success.Set(0)
		c.collectAll(ch)
		return
	}

	ok := true
	for _, device := range c.client.Devices() {
		if _, err := device.UpdateState(ctx, false, false); err != nil {
			ok = false
			continue
		}
		c.export(device)
	}

	if ok {
		c.success.Set(1)
		c.lastSuccess.Set(float64(time.Now().Unix()))
	} else {
		c.success.Set(0)
	}
	c.collectAll(ch)
}

func (c *MetricsCollector) export(device *Device) {
	labels := prometheus.Labels{
		"device_id":   device.ID(),
		"device_name": device.Name,
	}

	setBool := func(vec *prometheus.GaugeVec, value *bool) {
		if value != nil {
			vec.With(labels).Set(boolToFloat(*value))
		}
	}
	setFloat := func(vec *prometheus.GaugeVec, value *float64) {
		if value != nil {
			vec.With(labels).Set(*value)
		}
	}

	setBool(c.powerOn, device.IsOn)
	setFloat(c.targetTemp, device.TargetTemperature)
	setFloat(c.outdoorTemp, device.OutdoorTemperature)
	setFloat(c.indoorTemp, device.IndoorTemperature)
	setFloat(c.currentTemp, device.CurrentTemperature)
	setFloat(c.exhaustTemp, device.ExhaustTemperature)
	setFloat(c.indoorHum, device.IndoorHumidity)
	setFloat(c.currentHum, device.CurrentHumidity)
	if device.TargetHumidity != nil {
		c.targetHum.With(labels).Set(float64(*device.TargetHumidity))
	}
	setFloat(c.airPressure, device.AirPressure)
	setFloat(c.co2, device.CO2Level)
	setFloat(c.filterLife, device.FilterLifePercentage)
	setBool(c.fireplace, device.Fireplace)
	setBool(c.humidifier, device.Humidifier)
	setBool(c.firstRelay, device.FirstRelay)
	setBool(c.secondRelay, device.SecondRelay)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
