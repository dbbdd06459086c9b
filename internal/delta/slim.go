package delta

import "strings"

// slimWhitelist maps an entity domain to the attribute names kept in slim
// mode. Domains without an entry pass their attributes through untouched.
var slimWhitelist = map[string]map[string]struct{}{
	"light": set(
		"brightness", "color_mode", "color_temp", "color_temp_kelvin",
		"rgb_color", "hs_color", "effect", "effect_list",
		"supported_color_modes", "supported_features",
	),
	"climate": set(
		"hvac_action", "hvac_modes", "current_temperature", "temperature",
		"target_temp_high", "target_temp_low", "min_temp", "max_temp",
		"fan_mode", "fan_modes", "preset_mode", "preset_modes",
		"current_humidity", "humidity", "min_humidity", "max_humidity",
	),
	"sensor": set(
		"device_class", "unit_of_measurement", "state_class",
	),
	"binary_sensor": set(
		"device_class",
	),
	"media_player": set(
		"media_title", "media_artist", "media_album_name",
		"media_duration", "media_position", "media_position_updated_at",
		"volume_level", "is_volume_muted", "source", "source_list",
	),
	"cover": set(
		"current_position", "current_tilt_position", "device_class",
	),
	"fan": set(
		"percentage", "preset_mode", "preset_modes", "oscillating",
	),
	"lock": set(
		"device_class",
	),
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func entityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i]
	}
	return entityID
}

// SlimPayload returns a copy of the payload with the attribute map filtered
// to the per-domain whitelist. Unknown domains are returned unchanged.
func SlimPayload(p EventPayload) EventPayload {
	allowed, ok := slimWhitelist[entityDomain(p.EntityID)]
	if !ok {
		return p
	}
	filtered := make(map[string]any, len(allowed))
	for k, v := range p.NewState.Attributes {
		if _, keep := allowed[k]; keep {
			filtered[k] = v
		}
	}
	p.NewState.Attributes = filtered
	return p
}

func slimAll(events []EventPayload) []EventPayload {
	out := make([]EventPayload, len(events))
	for i, ev := range events {
		out[i] = SlimPayload(ev)
	}
	return out
}
