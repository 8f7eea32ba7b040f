package broker

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// ParsedOption is the decoded form of an OCC option symbol:
// UNDERLYING + YYMMDD + C/P + 8-digit strike (price x 1000).
type ParsedOption struct {
	Underlying string
	Expiration time.Time
	OptionType models.OptionType
	Strike     float64
}

// ParseOptionSymbol decodes an OCC symbol such as SPXW240315P03950000.
// Underlying roots vary in length (SPX vs SPXW), so the expiration is
// located by scanning for the first run of six consecutive digits.
func ParseOptionSymbol(symbol string) (*ParsedOption, error) {
	if len(symbol) < 15 {
		return nil, fmt.Errorf("option symbol too short: %s", symbol)
	}

	expPos := -1
	for i := 0; i <= len(symbol)-6; i++ {
		if isAllDigits(symbol[i : i+6]) {
			expPos = i
			break
		}
	}
	if expPos <= 0 {
		return nil, fmt.Errorf("no YYMMDD expiration found in symbol: %s", symbol)
	}

	expiration, err := time.Parse("060102", symbol[expPos:expPos+6])
	if err != nil {
		return nil, fmt.Errorf("invalid expiration in symbol %s: %w", symbol, err)
	}

	typePos := expPos + 6
	if typePos >= len(symbol) {
		return nil, fmt.Errorf("symbol truncated after expiration: %s", symbol)
	}
	var optType models.OptionType
	switch symbol[typePos] {
	case 'P':
		optType = models.OptionPut
	case 'C':
		optType = models.OptionCall
	default:
		return nil, fmt.Errorf("invalid option type %q in symbol: %s", symbol[typePos], symbol)
	}

	strikeStr := symbol[typePos+1:]
	if len(strikeStr) != 8 || !isAllDigits(strikeStr) {
		return nil, fmt.Errorf("invalid 8-digit strike %q in symbol: %s", strikeStr, symbol)
	}
	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse strike in symbol %s: %w", symbol, err)
	}

	return &ParsedOption{
		Underlying: symbol[:expPos],
		Expiration: expiration,
		OptionType: optType,
		Strike:     float64(strikeInt) / 1000.0,
	}, nil
}

// BuildOptionSymbol encodes an OCC symbol from its parts. Strikes are
// rounded to the nearest 1/1000th dollar; the eps guard keeps values
// like 394.9999999 from truncating down a tick.
func BuildOptionSymbol(underlying string, expiration time.Time, optType models.OptionType, strike float64) string {
	const eps = 1e-9
	typeChar := "P"
	if optType == models.OptionCall {
		typeChar = "C"
	}
	strikeInt := int(math.Round(strike*1000 + eps))
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), typeChar, strikeInt)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
