package dispatch_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

func TestConvertToStringValues(t *testing.T) {
	t.Run("Mixed values", func(t *testing.T) {
		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":{"c":2},"d":"x","e":true,"f":null,"g":[1,"two"],"h":1.5}`), &data))

		got := dispatch.ConvertToStringValues(data)

		assert.Equal(t, map[string]string{
			"a": "1",
			"b": `{"c":2}`,
			"d": "x",
			"e": "true",
			"f": "null",
			"g": `[1,"two"]`,
			"h": "1.5",
		}, got)
	})

	t.Run("Already stringified values are unchanged", func(t *testing.T) {
		once := dispatch.ConvertToStringValues(map[string]any{"a": float64(1), "b": map[string]any{"c": float64(2)}})

		again := make(map[string]any, len(once))
		for k, v := range once {
			again[k] = v
		}
		assert.Equal(t, once, dispatch.ConvertToStringValues(again))
	})

	t.Run("Markup is not escaped", func(t *testing.T) {
		got := dispatch.ConvertToStringValues(map[string]any{"link": map[string]any{"href": "/a?b=1&c=<d>"}})
		assert.Equal(t, `{"href":"/a?b=1&c=<d>"}`, got["link"])
	})

	t.Run("Numbers switch to exponent form at the same bounds as nested JSON", func(t *testing.T) {
		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(`{"big":1e21,"tiny":1e-7,"fraction":1.5e-7,"edge":1e-6,"large":1e20,"neg":-2.5e22,"nested":{"big":1e21}}`), &data))

		got := dispatch.ConvertToStringValues(data)

		assert.Equal(t, map[string]string{
			"big":      "1e+21",
			"tiny":     "1e-7",
			"fraction": "1.5e-7",
			"edge":     "0.000001",
			"large":    "100000000000000000000",
			"neg":      "-2.5e+22",
			"nested":   `{"big":1e+21}`,
		}, got)
	})

	t.Run("Empty payload is nil", func(t *testing.T) {
		assert.Nil(t, dispatch.ConvertToStringValues(nil))
		assert.Nil(t, dispatch.ConvertToStringValues(map[string]any{}))
	})
}

func TestDeliveryResult_JSONShape(t *testing.T) {
	single, err := json.Marshal(dispatch.Delivered("m1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"messageId":"m1"}`, string(single))

	bulk, err := json.Marshal(dispatch.BulkSummary(0, 3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"successCount":0,"failureCount":3}`, string(bulk))
}
