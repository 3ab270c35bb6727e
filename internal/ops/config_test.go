package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	loaded := Default()
	require.NotNil(t, loaded.Registry)
	assert.Equal(t, 20, loaded.Registry.Count())
	assert.Equal(t, time.Second, loaded.Engine.TickInterval)
	assert.Equal(t, 1.0, loaded.Engine.Speed)
	assert.True(t, loaded.Engine.Features.News)
	assert.True(t, loaded.Engine.Features.Bots)
	assert.Equal(t, ":8080", loaded.Server.Addr)
	assert.Equal(t, 64, loaded.Server.PushCapacity)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"seed": 99,
		"speed": 2,
		"tickInterval": 500000000,
		"instruments": [
			{"symbol": "ACME", "class": "equity", "initialPrice": "120.5"},
			{"symbol": "COIN", "name": "Coin", "class": "crypto", "initialPrice": 3000, "baseVolume": 10000}
		],
		"risk": {"version": 3, "maxOrderSize": "100"},
		"features": {"enableNews": false, "enableDepth": false},
		"server": {"addr": ":9090"}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(99), loaded.Engine.Seed)
	assert.Equal(t, 2.0, loaded.Engine.Speed)
	assert.Equal(t, 500*time.Millisecond, loaded.Engine.TickInterval)
	assert.Equal(t, uint16(3), loaded.Engine.Risk.Version)
	assert.True(t, loaded.Engine.Risk.MaxOrderSize.Equal(decimal.NewFromInt(100)))
	assert.False(t, loaded.Engine.Features.News)
	assert.False(t, loaded.Engine.Features.Depth)
	assert.True(t, loaded.Engine.Features.Volatility)
	assert.Equal(t, ":9090", loaded.Server.Addr)
	assert.Equal(t, 40, loaded.Server.RateBurst, "unset server fields keep defaults")

	require.Equal(t, 2, loaded.Registry.Count())
	coin, ok := loaded.Registry.Lookup("COIN")
	require.True(t, ok)
	assert.Equal(t, schema.AssetClassCrypto, coin.Class)
	assert.Equal(t, int64(10000), coin.BaseVolume)
	acme, ok := loaded.Registry.Lookup("ACME")
	require.True(t, ok)
	assert.Equal(t, "ACME", acme.Name)

	// untouched sections keep their defaults
	assert.NotEmpty(t, loaded.Engine.Volatility.Specs)
	assert.True(t, loaded.Engine.Ledger.InitialCash.Equal(decimal.NewFromInt(100_000)))
}

func TestLoadRejectsInvalid(t *testing.T) {
	testCases := []struct {
		desc string
		body string
		want error
	}{
		{"speed out of range", `{"speed": 20}`, exception.ErrInvalidSpeed},
		{"zero tick", `{"tickInterval": 0}`, exception.ErrInvalidInput},
		{"duplicate symbol", `{"instruments": [{"symbol": "A", "class": "equity", "initialPrice": 1}, {"symbol": "A", "class": "equity", "initialPrice": 1}]}`, nil},
		{"empty addr", `{"server": {"addr": ""}}`, nil},
		{"bad json", `{"seed": `, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
