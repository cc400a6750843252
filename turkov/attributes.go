package turkov

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Attribute names a reconciled device state field.
type Attribute string

const (
	AttrIsOn                 Attribute = "is_on"
	AttrFanSpeed             Attribute = "fan_speed"
	AttrFanMode              Attribute = "fan_mode"
	AttrTargetTemperature    Attribute = "target_temperature"
	AttrSelectedMode         Attribute = "selected_mode"
	AttrSetup                Attribute = "setup"
	AttrFilterLifePercentage Attribute = "filter_life_percentage"
	AttrOutdoorTemperature   Attribute = "outdoor_temperature"
	AttrIndoorTemperature    Attribute = "indoor_temperature"
	AttrImageURL             Attribute = "image_url"
	AttrIndoorHumidity       Attribute = "indoor_humidity"
	AttrExhaustTemperature   Attribute = "exhaust_temperature"
	AttrAirPressure          Attribute = "air_pressure"
	AttrCO2Level             Attribute = "co2_level"
	AttrCurrentTemperature   Attribute = "current_temperature"
	AttrCurrentHumidity      Attribute = "current_humidity"
	AttrTargetHumidity       Attribute = "target_humidity"
	AttrFireplace            Attribute = "fireplace"
	AttrHumidifier           Attribute = "humidifier"
	AttrFirstRelay           Attribute = "first_relay"
	AttrFirstRelayName       Attribute = "first_relay_name"
	AttrSecondRelay          Attribute = "second_relay"
	AttrSecondRelayName      Attribute = "second_relay_name"
)

// converterKind tags how a wire value becomes an attribute value.
type converterKind int

const (
	convRaw    converterKind = iota // pass the wire value through
	convString                      // render as string
	convFloat                       // numeric
	convInt                         // whole number
	convBool                        // truthy flag
	convTenths                      // tenths-of-a-unit integer scaled to a float
	convSkip                        // excluded from the generic pass, resolved separately
)

type attributeSpec struct {
	attr Attribute
	key  string
	kind converterKind
}

// attributeTable fixes each attribute's wire key and decoding rule. The image
// URL is skipped here and resolved after the generic pass.
var attributeTable = []attributeSpec{
	{AttrIsOn, "on", convRaw},
	{AttrFanSpeed, "fan_speed", convString},
	{AttrFanMode, "fan_mode", convRaw},
	{AttrTargetTemperature, "temp_sp", convFloat},
	{AttrSelectedMode, "mode", convString},
	{AttrSetup, "setup", convString},
	{AttrFilterLifePercentage, "filter", convFloat},
	{AttrOutdoorTemperature, "out_temp", convTenths},
	{AttrIndoorTemperature, "in_temp", convTenths},
	{AttrImageURL, "image", convSkip},
	{AttrIndoorHumidity, "in_humid", convTenths},
	{AttrExhaustTemperature, "exh_temp", convTenths},
	{AttrAirPressure, "air_pres", convFloat},
	{AttrCO2Level, "CO2_level", convFloat},
	{AttrCurrentTemperature, "temp_curr", convTenths},
	{AttrCurrentHumidity, "hum_curr", convTenths},
	{AttrTargetHumidity, "hum_sp", convInt},
	{AttrFireplace, "firep", convBool},
	{AttrHumidifier, "humib", convBool},
	{AttrFirstRelay, "relay_1", convBool},
	{AttrFirstRelayName, "relay_1_name", convString},
	{AttrSecondRelay, "relay_2", convBool},
	{AttrSecondRelayName, "relay_2_name", convString},
}

// defaultImagesByType maps a device type to its stock image path.
var defaultImagesByType = map[string]string{
	"Zenit":   "/images/zenit.jpg",
	"Capsule": "/images/capsule.jpg",
	"i-Vent":  "/images/ivent.jpg",
}

// UpdateState fetches the device state and reconciles it onto the typed
// attribute set, returning the names of attributes whose value actually
// changed (in table order).
//
// A conditional-request hit yields an empty change set. Wire keys absent from
// the payload leave the prior value untouched unless markAsNoneIfNotPresent
// is set, in which case the attribute is cleared (and that counts as a change
// when it was previously set). Assigning an equal value is never a change.
func (d *Device) UpdateState(ctx context.Context, markAsNoneIfNotPresent, force bool) ([]Attribute, error) {
	state, err := d.GetState(ctx, force)
	if err != nil {
		return nil, err
	}

	changed := []Attribute{}
	if state == nil {
		return changed, nil
	}

	for _, spec := range attributeTable {
		if spec.kind == convSkip {
			continue
		}

		var value any
		raw, present := state[spec.key]
		if !present {
			if !markAsNoneIfNotPresent {
				continue
			}
		} else {
			value, err = convert(spec.kind, raw)
			if err != nil {
				return changed, fmt.Errorf("%w: attribute %s: %v", ErrProtocol, spec.attr, err)
			}
		}

		set, err := d.setAttribute(spec.attr, value)
		if err != nil {
			return changed, err
		}
		if set {
			d.log.Debug("attribute changed", "attribute", string(spec.attr), "value", value)
			changed = append(changed, spec.attr)
		}
	}

	if d.resolveImageURL(state, markAsNoneIfNotPresent) {
		changed = append(changed, AttrImageURL)
	}

	return changed, nil
}

// resolveImageURL handles the skipped image attribute: a custom image id in
// the payload builds an upload URL from the device id, otherwise the device
// type's stock image applies, otherwise there is no image.
func (d *Device) resolveImageURL(state map[string]any, markAsNoneIfNotPresent bool) bool {
	base := DefaultBaseURL
	if d.client != nil {
		base = d.client.baseURL
	}

	var imageURL string
	imageID, _ := state["image"].(string)
	switch {
	case imageID != "" && d.id != "":
		imageURL = fmt.Sprintf("%s/upload/%s_%s.jpg", base, d.id, imageID)
	default:
		if path, ok := defaultImagesByType[d.Type]; ok {
			imageURL = path
			if strings.HasPrefix(imageURL, "/") {
				imageURL = base + imageURL
			}
		}
	}

	var changed bool
	if markAsNoneIfNotPresent {
		// Only the transition to "no image" counts in this mode.
		changed = imageURL == "" && d.ImageURL != nil
	} else if imageURL == "" {
		changed = d.ImageURL != nil
	} else {
		changed = d.ImageURL == nil || *d.ImageURL != imageURL
	}
	if !changed {
		return false
	}

	if imageURL == "" {
		d.ImageURL = nil
	} else {
		d.ImageURL = &imageURL
	}
	return true
}

// Attributes returns a snapshot of the reconciled attribute values keyed by
// attribute name. Attributes never set are omitted.
func (d *Device) Attributes() map[Attribute]any {
	out := make(map[Attribute]any)
	put := func(attr Attribute, value any) {
		if value != nil {
			out[attr] = value
		}
	}

	putBool := func(attr Attribute, v *bool) {
		if v != nil {
			put(attr, *v)
		}
	}
	putString := func(attr Attribute, v *string) {
		if v != nil {
			put(attr, *v)
		}
	}
	putFloat := func(attr Attribute, v *float64) {
		if v != nil {
			put(attr, *v)
		}
	}

	putBool(AttrIsOn, d.IsOn)
	putString(AttrFanSpeed, d.FanSpeed)
	putString(AttrFanMode, d.FanMode)
	putFloat(AttrTargetTemperature, d.TargetTemperature)
	putString(AttrSelectedMode, d.SelectedMode)
	putString(AttrSetup, d.Setup)
	putFloat(AttrFilterLifePercentage, d.FilterLifePercentage)
	putFloat(AttrOutdoorTemperature, d.OutdoorTemperature)
	putFloat(AttrIndoorTemperature, d.IndoorTemperature)
	putString(AttrImageURL, d.ImageURL)
	putFloat(AttrIndoorHumidity, d.IndoorHumidity)
	putFloat(AttrExhaustTemperature, d.ExhaustTemperature)
	putFloat(AttrAirPressure, d.AirPressure)
	putFloat(AttrCO2Level, d.CO2Level)
	putFloat(AttrCurrentTemperature, d.CurrentTemperature)
	putFloat(AttrCurrentHumidity, d.CurrentHumidity)
	if d.TargetHumidity != nil {
		put(AttrTargetHumidity, *d.TargetHumidity)
	}
	putBool(AttrFireplace, d.Fireplace)
	putBool(AttrHumidifier, d.Humidifier)
	putBool(AttrFirstRelay, d.FirstRelay)
	putString(AttrFirstRelayName, d.FirstRelayName)
	putBool(AttrSecondRelay, d.SecondRelay)
	putString(AttrSecondRelayName, d.SecondRelayName)
	return out
}

// setAttribute assigns a converted value (nil clears) to the typed field for
// attr, reporting whether the stored value changed. Raw-converter attributes
// are coerced at this typed boundary.
func (d *Device) setAttribute(attr Attribute, value any) (bool, error) {
	switch attr {
	case AttrIsOn:
		if value != nil {
			value = asBool(value)
		}
		return setPtr(&d.IsOn, value, attr)
	case AttrFanSpeed:
		return setPtr(&d.FanSpeed, value, attr)
	case AttrFanMode:
		if value != nil {
			value = asString(value)
		}
		return setPtr(&d.FanMode, value, attr)
	case AttrTargetTemperature:
		return setPtr(&d.TargetTemperature, value, attr)
	case AttrSelectedMode:
		return setPtr(&d.SelectedMode, value, attr)
	case AttrSetup:
		return setPtr(&d.Setup, value, attr)
	case AttrFilterLifePercentage:
		return setPtr(&d.FilterLifePercentage, value, attr)
	case AttrOutdoorTemperature:
		return setPtr(&d.OutdoorTemperature, value, attr)
	case AttrIndoorTemperature:
		return setPtr(&d.IndoorTemperature, value, attr)
	case AttrIndoorHumidity:
		return setPtr(&d.IndoorHumidity, value, attr)
	case AttrExhaustTemperature:
		return setPtr(&d.ExhaustTemperature, value, attr)
	case AttrAirPressure:
		return setPtr(&d.AirPressure, value, attr)
	case AttrCO2Level:
		return setPtr(&d.CO2Level, value, attr)
	case AttrCurrentTemperature:
		return setPtr(&d.CurrentTemperature, value, attr)
	case AttrCurrentHumidity:
		return setPtr(&d.CurrentHumidity, value, attr)
	case AttrTargetHumidity:
		return setPtr(&d.TargetHumidity, value, attr)
	case AttrFireplace:
		return setPtr(&d.Fireplace, value, attr)
	case AttrHumidifier:
		return setPtr(&d.Humidifier, value, attr)
	case AttrFirstRelay:
		return setPtr(&d.FirstRelay, value, attr)
	case AttrFirstRelayName:
		return setPtr(&d.FirstRelayName, value, attr)
	case AttrSecondRelay:
		return setPtr(&d.SecondRelay, value, attr)
	case AttrSecondRelayName:
		return setPtr(&d.SecondRelayName, value, attr)
	}
	return false, fmt.Errorf("unknown attribute %q", attr)
}

// setPtr assigns value to field if it differs from the stored value; a nil
// value clears the field.
func setPtr[T comparable](field **T, value any, attr Attribute) (bool, error) {
	if value == nil {
		if *field == nil {
			return false, nil
		}
		*field = nil
		return true, nil
	}

	typed, ok := value.(T)
	if !ok {
		return false, fmt.Errorf("%w: attribute %s: unexpected type %T", ErrProtocol, attr, value)
	}
	if *field != nil && **field == typed {
		return false, nil
	}
	*field = &typed
	return true, nil
}

// convert applies a converter kind to a decoded JSON value.
func convert(kind converterKind, value any) (any, error) {
	switch kind {
	case convRaw:
		return value, nil
	case convString:
		return asString(value), nil
	case convFloat:
		return asFloat(value)
	case convInt:
		return asInt(value)
	case convBool:
		return asBool(value), nil
	case convTenths:
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		return f / 10, nil
	}
	return nil, fmt.Errorf("unhandled converter kind %d", kind)
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", v)
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func asInt(value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", v)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

// asBool follows the wire's loose flag encoding: native booleans, nonzero
// numbers, and the strings accepted by strconv.ParseBool; any other nonempty
// string counts as set.
func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
