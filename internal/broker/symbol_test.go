package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

func TestParseOptionSymbol(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		underlying string
		expiration string
		optType    models.OptionType
		strike     float64
	}{
		{
			name:       "standard root",
			symbol:     "SPX240920P03800000",
			underlying: "SPX",
			expiration: "2024-09-20",
			optType:    models.OptionPut,
			strike:     3800,
		},
		{
			name:       "weekly root",
			symbol:     "SPXW240315P03950000",
			underlying: "SPXW",
			expiration: "2024-03-15",
			optType:    models.OptionPut,
			strike:     3950,
		},
		{
			name:       "call with fractional strike",
			symbol:     "SPY240119C00467500",
			underlying: "SPY",
			expiration: "2024-01-19",
			optType:    models.OptionCall,
			strike:     467.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseOptionSymbol(tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.underlying, parsed.Underlying)
			assert.Equal(t, tt.expiration, parsed.Expiration.Format("2006-01-02"))
			assert.Equal(t, tt.optType, parsed.OptionType)
			assert.InDelta(t, tt.strike, parsed.Strike, 1e-9)
		})
	}
}

func TestParseOptionSymbolRejectsMalformed(t *testing.T) {
	for _, symbol := range []string{
		"",
		"SPX",
		"SPX240920X03800000",  // bad option type
		"SPX240920P038000",    // short strike field
		"240315P03950000",     // no underlying root
		"SPXW240315P0395000Z", // non-digit in strike
	} {
		t.Run(symbol, func(t *testing.T) {
			_, err := ParseOptionSymbol(symbol)
			assert.Error(t, err)
		})
	}
}

func TestBuildOptionSymbolRoundTrip(t *testing.T) {
	exp := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	symbol := BuildOptionSymbol("SPXW", exp, models.OptionPut, 3925)
	assert.Equal(t, "SPXW240315P03925000", symbol)

	parsed, err := ParseOptionSymbol(symbol)
	require.NoError(t, err)
	assert.Equal(t, "SPXW", parsed.Underlying)
	assert.InDelta(t, 3925.0, parsed.Strike, 1e-9)
	assert.Equal(t, models.OptionPut, parsed.OptionType)
}

func TestBuildOptionSymbolStrikeRounding(t *testing.T) {
	exp := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	// 467.4999999 is floating point noise on 467.50 and must not truncate.
	symbol := BuildOptionSymbol("SPY", exp, models.OptionCall, 467.4999999999)
	assert.Equal(t, "SPY240119C00467500", symbol)
}
