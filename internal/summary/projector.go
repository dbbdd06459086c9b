// Package summary computes on-demand aggregate views over the hub state
// for the enumerated watch-facing domains.
package summary

import (
	"sort"
	"strconv"

	"github.com/technosupport/ts-wristlink/internal/hub"
)

const (
	DefaultBatteryThreshold = 20
	MinBatteryThreshold     = 5
	MaxBatteryThreshold     = 95
)

// Options select what the projection includes.
type Options struct {
	IncludeDetails   bool
	BatteryThreshold int
	// EntityFilter optionally restricts the per-domain detail lists,
	// keyed by domain name ("light", "person", ...). A domain with a
	// filter implies details for that domain.
	EntityFilter map[string][]string
}

// Detail is one per-entity row in a domain detail list.
type Detail struct {
	EntityID     string   `json:"entity_id"`
	FriendlyName string   `json:"friendly_name"`
	State        string   `json:"state"`
	Brightness   *float64 `json:"brightness,omitempty"`
	Level        *float64 `json:"level,omitempty"`
	Unit         string   `json:"unit,omitempty"`
}

// DomainSummary is the count/total pair for one domain, with optional
// per-entity detail.
type DomainSummary struct {
	Count   int      `json:"count"`
	Total   int      `json:"total"`
	Details []Detail `json:"details,omitempty"`
}

// InfoSummary is the full projection.
type InfoSummary struct {
	LightsOn     DomainSummary `json:"lights_on"`
	PersonsHome  DomainSummary `json:"persons_home"`
	SensorsOpen  DomainSummary `json:"sensors_open"`
	BatteriesLow DomainSummary `json:"batteries_low"`
}

// openDeviceClasses are binary_sensor device classes that read as "open"
// when their state is on.
var openDeviceClasses = map[string]struct{}{
	"door": {}, "window": {}, "opening": {}, "garage_door": {},
}

type Projector struct {
	store hub.StateStore
}

func NewProjector(store hub.StateStore) *Projector {
	return &Projector{store: store}
}

// Compute builds the projection from the current store contents.
func (p *Projector) Compute(opts Options) *InfoSummary {
	threshold := clampThreshold(opts.BatteryThreshold)
	return &InfoSummary{
		LightsOn:     p.lights(opts),
		PersonsHome:  p.persons(opts),
		SensorsOpen:  p.openSensors(opts),
		BatteriesLow: p.batteries(opts, float64(threshold)),
	}
}

func (p *Projector) lights(opts Options) DomainSummary {
	var out DomainSummary
	filter, wantDetails := domainFilter(opts, "light")
	for _, s := range p.store.All("light") {
		if filter != nil && !filter[s.EntityID] {
			continue
		}
		out.Total++
		on := s.State == "on"
		if on {
			out.Count++
		}
		if wantDetails {
			d := Detail{
				EntityID:     s.EntityID,
				FriendlyName: friendlyName(s),
				State:        s.State,
			}
			if b, ok := attrFloat(s, "brightness"); ok && on {
				d.Brightness = &b
			}
			out.Details = append(out.Details, d)
		}
	}
	return out
}

func (p *Projector) persons(opts Options) DomainSummary {
	var out DomainSummary
	filter, wantDetails := domainFilter(opts, "person")
	for _, s := range p.store.All("person") {
		if filter != nil && !filter[s.EntityID] {
			continue
		}
		out.Total++
		if s.State == "home" {
			out.Count++
		}
		if wantDetails {
			out.Details = append(out.Details, Detail{
				EntityID:     s.EntityID,
				FriendlyName: friendlyName(s),
				State:        s.State,
			})
		}
	}
	return out
}

func (p *Projector) openSensors(opts Options) DomainSummary {
	var out DomainSummary
	filter, wantDetails := domainFilter(opts, "binary_sensor")
	for _, s := range p.store.All("binary_sensor") {
		if filter != nil && !filter[s.EntityID] {
			continue
		}
		dc, _ := s.Attributes["device_class"].(string)
		if _, ok := openDeviceClasses[dc]; !ok {
			continue
		}
		out.Total++
		if s.State == "on" {
			out.Count++
		}
		if wantDetails {
			out.Details = append(out.Details, Detail{
				EntityID:     s.EntityID,
				FriendlyName: friendlyName(s),
				State:        s.State,
			})
		}
	}
	return out
}

// batteries counts battery-class sensors at or below the threshold. Sensors whose
// state does not parse as a number are excluded entirely.
func (p *Projector) batteries(opts Options, threshold float64) DomainSummary {
	var out DomainSummary
	filter, wantDetails := domainFilter(opts, "sensor")
	for _, s := range p.store.All("sensor") {
		if filter != nil && !filter[s.EntityID] {
			continue
		}
		dc, _ := s.Attributes["device_class"].(string)
		if dc != "battery" {
			continue
		}
		level, err := strconv.ParseFloat(s.State, 64)
		if err != nil {
			continue
		}
		out.Total++
		if level <= threshold {
			out.Count++
		}
		if wantDetails {
			lvl := level
			unit, _ := s.Attributes["unit_of_measurement"].(string)
			out.Details = append(out.Details, Detail{
				EntityID:     s.EntityID,
				FriendlyName: friendlyName(s),
				State:        s.State,
				Level:        &lvl,
				Unit:         unit,
			})
		}
	}
	// Battery details sort ascending by level so the worst offenders lead.
	sort.SliceStable(out.Details, func(i, j int) bool {
		return *out.Details[i].Level < *out.Details[j].Level
	})
	return out
}

func domainFilter(opts Options, domain string) (map[string]bool, bool) {
	ids, ok := opts.EntityFilter[domain]
	if !ok {
		return nil, opts.IncludeDetails
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m, true
}

func friendlyName(s *hub.State) string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

func attrFloat(s *hub.State, key string) (float64, bool) {
	switch v := s.Attributes[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func clampThreshold(v int) int {
	if v == 0 {
		return DefaultBatteryThreshold
	}
	if v < MinBatteryThreshold {
		return MinBatteryThreshold
	}
	if v > MaxBatteryThreshold {
		return MaxBatteryThreshold
	}
	return v
}
