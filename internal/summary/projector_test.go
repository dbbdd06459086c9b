package summary_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-wristlink/internal/hub"
	"github.com/technosupport/ts-wristlink/internal/summary"
)

type fakeStore struct {
	states []*hub.State
}

func (f *fakeStore) Get(entityID string) *hub.State {
	for _, s := range f.states {
		if s.EntityID == entityID {
			return s
		}
	}
	return nil
}

func (f *fakeStore) All(domain string) []*hub.State {
	var out []*hub.State
	for _, s := range f.states {
		if strings.HasPrefix(s.EntityID, domain+".") {
			out = append(out, s)
		}
	}
	return out
}

func st(entityID, value string, attrs map[string]any) *hub.State {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &hub.State{EntityID: entityID, State: value, Attributes: attrs, LastUpdated: time.Now()}
}

func testStore() *fakeStore {
	return &fakeStore{states: []*hub.State{
		st("light.kitchen", "on", map[string]any{"brightness": 180.0, "friendly_name": "Kitchen"}),
		st("light.hall", "off", nil),
		st("person.ana", "home", map[string]any{"friendly_name": "Ana"}),
		st("person.bo", "work", nil),
		st("binary_sensor.front_door", "on", map[string]any{"device_class": "door"}),
		st("binary_sensor.motion", "on", map[string]any{"device_class": "motion"}),
		st("sensor.watch_battery", "15", map[string]any{"device_class": "battery", "unit_of_measurement": "%"}),
		st("sensor.lock_battery", "80", map[string]any{"device_class": "battery", "unit_of_measurement": "%"}),
		st("sensor.broken_battery", "unknown", map[string]any{"device_class": "battery"}),
		st("sensor.temp", "21.5", map[string]any{"device_class": "temperature"}),
	}}
}

func TestComputeCounts(t *testing.T) {
	p := summary.NewProjector(testStore())
	info := p.Compute(summary.Options{})

	assert.Equal(t, 1, info.LightsOn.Count)
	assert.Equal(t, 2, info.LightsOn.Total)
	assert.Equal(t, 1, info.PersonsHome.Count)
	assert.Equal(t, 2, info.PersonsHome.Total)
	// Only binary sensors with an opening device class count as open.
	assert.Equal(t, 1, info.SensorsOpen.Count)
	assert.Equal(t, 1, info.SensorsOpen.Total)
	// Unparseable battery state is excluded, not errored.
	assert.Equal(t, 1, info.BatteriesLow.Count)
	assert.Equal(t, 2, info.BatteriesLow.Total)
}

func TestComputeDetailsSortedByLevel(t *testing.T) {
	p := summary.NewProjector(testStore())
	info := p.Compute(summary.Options{IncludeDetails: true})

	require.Len(t, info.BatteriesLow.Details, 2)
	assert.Equal(t, "sensor.watch_battery", info.BatteriesLow.Details[0].EntityID)
	assert.Equal(t, 15.0, *info.BatteriesLow.Details[0].Level)
	assert.Equal(t, "%", info.BatteriesLow.Details[0].Unit)
	assert.Equal(t, "sensor.lock_battery", info.BatteriesLow.Details[1].EntityID)

	require.Len(t, info.LightsOn.Details, 2)
	for _, d := range info.LightsOn.Details {
		if d.EntityID == "light.kitchen" {
			require.NotNil(t, d.Brightness)
			assert.Equal(t, 180.0, *d.Brightness)
			assert.Equal(t, "Kitchen", d.FriendlyName)
		}
	}
}

func TestComputeThresholdClamped(t *testing.T) {
	p := summary.NewProjector(testStore())

	// 200 clamps to 95: both parseable batteries are "low".
	info := p.Compute(summary.Options{BatteryThreshold: 200})
	assert.Equal(t, 2, info.BatteriesLow.Count)

	// 1 clamps to 5: nothing is low.
	info = p.Compute(summary.Options{BatteryThreshold: 1})
	assert.Equal(t, 0, info.BatteriesLow.Count)
}

func TestComputeEntityFilterImpliesDetails(t *testing.T) {
	p := summary.NewProjector(testStore())
	info := p.Compute(summary.Options{
		EntityFilter: map[string][]string{"light": {"light.kitchen"}},
	})

	assert.Equal(t, 1, info.LightsOn.Total)
	require.Len(t, info.LightsOn.Details, 1)
	assert.Equal(t, "light.kitchen", info.LightsOn.Details[0].EntityID)
	// Unfiltered domains keep counts only.
	assert.Empty(t, info.PersonsHome.Details)
}
