package effort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveykit/internal/estimator"
)

func TestInstantaneous(t *testing.T) {
	got, err := Instantaneous(CountSeries{Counts: []float64{12, 8, 10}, Window: 720})
	require.NoError(t, err)
	assert.InDelta(t, 7200, got, 1e-9)
}

func TestProgressive(t *testing.T) {
	got, err := Progressive(CountSeries{Counts: []float64{4, 6}, Window: 600}, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 3750, got, 1e-9)
}

func TestBusRoute(t *testing.T) {
	got, err := BusRoute(CountSeries{
		Counts: []float64{3, 5},
		Waits:  []float64{30, 60},
		Window: 480,
	})
	require.NoError(t, err)
	assert.InDelta(t, 88, got, 1e-9)
}

func TestAerial(t *testing.T) {
	got, err := Aerial(CountSeries{Counts: []float64{7, 9}, Window: 300}, 1.25)
	require.NoError(t, err)
	assert.InDelta(t, 3000, got, 1e-9)
}

func TestExpandValidation(t *testing.T) {
	valid := CountSeries{Counts: []float64{5, 5}, Window: 480}

	tests := []struct {
		name      string
		series    CountSeries
		exp       Expansion
		wantField string
	}{
		{
			name:      "no counts",
			series:    CountSeries{Window: 480},
			exp:       Expansion{Protocol: ProtocolInstantaneous},
			wantField: "effort.counts",
		},
		{
			name:      "negative count",
			series:    CountSeries{Counts: []float64{5, -1}, Window: 480},
			exp:       Expansion{Protocol: ProtocolInstantaneous},
			wantField: "effort.counts",
		},
		{
			name:      "zero window",
			series:    CountSeries{Counts: []float64{5}, Window: 0},
			exp:       Expansion{Protocol: ProtocolInstantaneous},
			wantField: "effort.window",
		},
		{
			name:      "coverage above one",
			series:    valid,
			exp:       Expansion{Protocol: ProtocolProgressive, Coverage: 1.5},
			wantField: "effort.coverage",
		},
		{
			name:      "zero coverage",
			series:    valid,
			exp:       Expansion{Protocol: ProtocolProgressive},
			wantField: "effort.coverage",
		},
		{
			name:      "missing waits",
			series:    valid,
			exp:       Expansion{Protocol: ProtocolBusRoute},
			wantField: "effort.waits",
		},
		{
			name: "zero wait",
			series: CountSeries{
				Counts: []float64{5, 5},
				Waits:  []float64{30, 0},
				Window: 480,
			},
			exp:       Expansion{Protocol: ProtocolBusRoute},
			wantField: "effort.waits",
		},
		{
			name:      "visibility below one",
			series:    valid,
			exp:       Expansion{Protocol: ProtocolAerial, Visibility: 0.9},
			wantField: "effort.visibility",
		},
		{
			name:      "unknown protocol",
			series:    valid,
			exp:       Expansion{Protocol: Protocol(99)},
			wantField: "effort.protocol",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.series, tt.exp)
			require.Error(t, err)
			var cfg *estimator.ConfigError
			require.ErrorAs(t, err, &cfg)
			assert.Equal(t, tt.wantField, cfg.Field)
		})
	}
}

func TestExpandSeries(t *testing.T) {
	occasions := []CountSeries{
		{Counts: []float64{12, 8, 10}, Window: 720},
		{Counts: []float64{2, 4}, Window: 720},
	}

	got, err := ExpandSeries(occasions, Expansion{Protocol: ProtocolInstantaneous})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{7200, 2160}, got, 1e-9)
}

func TestExpandSeriesNamesBadOccasion(t *testing.T) {
	occasions := []CountSeries{
		{Counts: []float64{12}, Window: 720},
		{Counts: []float64{-3}, Window: 720},
	}

	_, err := ExpandSeries(occasions, Expansion{Protocol: ProtocolInstantaneous})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "occasion 1")

	var cfg *estimator.ConfigError
	assert.ErrorAs(t, err, &cfg)
}

func TestExpandSeriesEmpty(t *testing.T) {
	_, err := ExpandSeries(nil, Expansion{Protocol: ProtocolInstantaneous})
	require.Error(t, err)
	var cfg *estimator.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "effort.occasions", cfg.Field)
}

func TestProtocolText(t *testing.T) {
	tests := []struct {
		protocol Protocol
		name     string
	}{
		{ProtocolInstantaneous, "instantaneous"},
		{ProtocolProgressive, "progressive"},
		{ProtocolBusRoute, "bus_route"},
		{ProtocolAerial, "aerial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.protocol.String())

			parsed, err := ParseProtocol(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.protocol, parsed)

			text, err := tt.protocol.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.name, string(text))

			var back Protocol
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, tt.protocol, back)
		})
	}

	_, err := ParseProtocol("drone")
	assert.Error(t, err)

	var p Protocol
	assert.Error(t, p.UnmarshalText([]byte("drone")))
}
