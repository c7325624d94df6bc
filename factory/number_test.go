package factory_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/regen-engine/factory"
	"github.com/warp/regen-engine/timed"
)

func TestParseConfig_Valid(t *testing.T) {
	f := factory.NewNumberFactory()

	cfg, err := f.ParseConfig([]byte(`{"init":10,"max":10,"min":0,"interval":10,"step":1,"type":"inc"}`))

	require.NoError(t, err)
	assert.Equal(t, timed.Config{
		Init:     10,
		Max:      10,
		Min:      0,
		Step:     1,
		Interval: 10 * time.Millisecond,
		Type:     timed.Increasing,
	}, cfg)
}

func TestParseConfig_IntegerSpellings(t *testing.T) {
	f := factory.NewNumberFactory()

	cfg, err := f.ParseConfig([]byte(`{"init":1e1,"max":10.0,"min":0,"interval":250,"step":1,"type":"decreasing"}`))

	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Init)
	assert.Equal(t, int64(10), cfg.Max)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, timed.Decreasing, cfg.Type)
}

func TestParseConfig_RejectsNonNumericInput(t *testing.T) {
	cases := map[string]string{
		"string init":     `{"init":"10","max":10,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"array interval":  `{"init":10,"max":10,"min":0,"interval":[1,2,3],"step":1,"type":"inc"}`,
		"boolean step":    `{"init":10,"max":10,"min":0,"interval":10,"step":true,"type":"inc"}`,
		"null max":        `{"init":10,"max":null,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"object min":      `{"init":10,"max":10,"min":{},"interval":10,"step":1,"type":"inc"}`,
		"fraction step":   `{"init":10,"max":10,"min":0,"interval":10,"step":0.5,"type":"inc"}`,
		"missing init":    `{"max":10,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"huge init":       `{"init":99999999999999999999,"max":10,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"huge exponent":   `{"init":1e1000000000,"max":10,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"tiny exponent":   `{"init":1e-1000000000,"max":10,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"numeric type":    `{"init":10,"max":10,"min":0,"interval":10,"step":1,"type":1}`,
		"missing type":    `{"init":10,"max":10,"min":0,"interval":10,"step":1}`,
		"unknown type":    `{"init":10,"max":10,"min":0,"interval":10,"step":1,"type":"foo"}`,
		"zero max":        `{"init":10,"max":0,"min":0,"interval":10,"step":1,"type":"inc"}`,
		"negative min":    `{"init":10,"max":10,"min":-1,"interval":10,"step":1,"type":"inc"}`,
		"step above span": `{"init":10,"max":10,"min":0,"interval":10,"step":100,"type":"inc"}`,
	}

	f := factory.NewNumberFactory()
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseConfig([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, timed.ErrInvalidConfig)
		})
	}
}

func TestParseConfig_HugeExponentFailsFast(t *testing.T) {
	f := factory.NewNumberFactory()
	start := time.Now()

	_, err := f.ParseConfig([]byte(`{"init":10,"max":1e3000000,"min":0,"interval":10,"step":1,"type":"inc"}`))

	var cfgErr *timed.InvalidConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "max", cfgErr.Field)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestParseConfig_ReportsField(t *testing.T) {
	f := factory.NewNumberFactory()

	_, err := f.ParseConfig([]byte(`{"init":"10","max":10,"min":0,"interval":10,"step":1,"type":"inc"}`))

	var cfgErr *timed.InvalidConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "init", cfgErr.Field)
}

func TestParseConfig_MalformedJSON(t *testing.T) {
	f := factory.NewNumberFactory()

	_, err := f.ParseConfig([]byte(`{"init":`))

	require.Error(t, err)
	assert.NotErrorIs(t, err, timed.ErrInvalidConfig)
}

func TestNewNumberJSON_RoundTrip(t *testing.T) {
	want := timed.Config{Init: 3, Max: 9, Min: 3, Step: 2, Interval: 1500 * time.Millisecond, Type: timed.Decreasing}

	data, err := json.Marshal(factory.NewNumberJSON(want))
	require.NoError(t, err)

	got, err := factory.NewNumberFactory().ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
