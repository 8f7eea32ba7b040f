package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

func rollRules() models.RuleSet {
	return models.RuleSet{Name: "test", SpreadWidth: 25}
}

func TestFindRollPicksLowestFundedStrike(t *testing.T) {
	// Premium declines as strike decreases. Cost to close is 1.50; the
	// 3925 and 3900 shorts both fund it (credits 1.60 and 1.50), 3875
	// does not (0.70). The scan must return 3900, the lowest strike that
	// still pays for the close.
	chain := []OptionQuote{
		chainPut(3950, 6.00, 6.20),
		chainPut(3925, 5.00, 5.10),
		chainPut(3900, 3.30, 3.40),
		chainPut(3875, 1.70, 1.80),
		chainPut(3850, 0.90, 1.00),
	}

	cand := FindRoll(chain, 3950, 1.50, rollRules())
	require.NotNil(t, cand)
	assert.InDelta(t, 3900.0, cand.Short.Strike, 1e-9)
	assert.InDelta(t, 3875.0, cand.Long.Strike, 1e-9)
	assert.InDelta(t, 1.50, cand.Credit, 1e-9)
}

func TestFindRollOnlyBelowCurrentShort(t *testing.T) {
	chain := []OptionQuote{
		chainPut(3975, 7.00, 7.10),
		chainPut(3950, 6.00, 6.10),
		chainPut(3925, 5.00, 5.10),
	}

	// Only 3925 sits strictly below the current short 3950, and its long
	// leg 3900 is missing, so nothing qualifies.
	cand := FindRoll(chain, 3950, 0.50, rollRules())
	assert.Nil(t, cand)
}

func TestFindRollNothingPaysForClose(t *testing.T) {
	chain := []OptionQuote{
		chainPut(3925, 1.00, 1.10),
		chainPut(3900, 0.80, 0.90),
	}

	cand := FindRoll(chain, 3950, 5.00, rollRules())
	assert.Nil(t, cand)
}

func TestFindRollBoundaryCreditEqualsCost(t *testing.T) {
	// 3925 short bid 5.00 minus 3900 long ask 4.00 = exactly the cost to
	// close. A credit equal to the cost is funded (inclusive >=).
	chain := []OptionQuote{
		chainPut(3925, 5.00, 5.10),
		chainPut(3900, 3.90, 4.00),
	}

	cand := FindRoll(chain, 3950, 1.00, rollRules())
	require.NotNil(t, cand)
	assert.InDelta(t, 3925.0, cand.Short.Strike, 1e-9)
	assert.InDelta(t, 1.00, cand.Credit, 1e-9)
}

func TestFindRollStopsAfterFirstFailure(t *testing.T) {
	// A choppy chain: 3900 fails to fund the close but 3850 would. Under
	// the monotonic-premium assumption the scan stops at the 3900 failure
	// and keeps the last valid candidate, 3925.
	chain := []OptionQuote{
		chainPut(3925, 5.00, 5.10),
		chainPut(3900, 1.00, 1.10), // credit collapses here
		chainPut(3875, 3.40, 3.50),
		chainPut(3850, 9.00, 9.10), // would fund, but is never reached
		chainPut(3825, 2.10, 2.20),
	}

	cand := FindRoll(chain, 3950, 1.00, rollRules())
	require.NotNil(t, cand)
	assert.InDelta(t, 3925.0, cand.Short.Strike, 1e-9)
}
