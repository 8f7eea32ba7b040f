package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// shortDayCloseHour is the local hour before which a scheduled close marks
// a shortened session. Half days close at 13:00 ET; a close before 15:00
// is treated as "not a full day" and blocks new entries.
const shortDayCloseHour = 15

// EntryCheck names one gate in the ordered entry validation.
type EntryCheck string

const (
	// CheckStartDelay blocks entries too soon after the open.
	CheckStartDelay EntryCheck = "start_delay"
	// CheckLateCutoff blocks entries past the configured cutoff time.
	CheckLateCutoff EntryCheck = "late_cutoff"
	// CheckOvernightGap blocks entries after a large overnight drop.
	CheckOvernightGap EntryCheck = "overnight_gap"
	// CheckIntradayGap blocks entries after a large intraday drop.
	CheckIntradayGap EntryCheck = "intraday_gap"
	// CheckShortDay blocks entries on shortened sessions.
	CheckShortDay EntryCheck = "short_day"
)

// EntryDecision is the outcome of the ordered entry gate. Blocked carries
// the first-violated check; Reason is human-readable. Diagnostics records
// every evaluated check for the orchestrator to log; it is observability,
// not control flow.
type EntryDecision struct {
	OK          bool
	Blocked     EntryCheck
	Reason      string
	Diagnostics []string
}

// ValidateEntry runs the ordered entry checks against one market snapshot.
// The first failure short-circuits; checks are pure and order-sensitive.
func ValidateEntry(market MarketSnapshot, env EnvStatus, rules models.RuleSet) EntryDecision {
	d := EntryDecision{OK: true}

	// 1. Start delay.
	sinceOpen := market.Now.Sub(market.MarketOpen).Minutes()
	if sinceOpen < float64(rules.TradeStartDelayMin) {
		return blocked(d, CheckStartDelay,
			fmt.Sprintf("only %.0f of %d minutes elapsed since the open", sinceOpen, rules.TradeStartDelayMin))
	}
	d.note("start_delay ok: %.0f minutes since open", sinceOpen)

	// 2. Late cutoff.
	if rules.EnforceLateCutoff {
		cutoff := cutoffFor(market.Now, rules.LateCutoff)
		if !market.Now.Before(cutoff) {
			return blocked(d, CheckLateCutoff,
				fmt.Sprintf("past entry cutoff %s", cutoff.Format("15:04")))
		}
		d.note("late_cutoff ok: before %s", cutoff.Format("15:04"))
	}

	// 3. Overnight gap.
	if market.PrevClose > 0 {
		gap := (market.TodayOpen - market.PrevClose) / market.PrevClose
		if gap < -rules.GapThreshold {
			return blocked(d, CheckOvernightGap,
				fmt.Sprintf("overnight gap %.2f%% exceeds threshold %.2f%%", gap*100, rules.GapThreshold*100))
		}
		d.note("overnight_gap ok: %.2f%%", gap*100)
	}

	// 4. Intraday gap.
	if market.TodayOpen > 0 {
		gap := (market.Last - market.TodayOpen) / market.TodayOpen
		if gap < -rules.GapThreshold {
			return blocked(d, CheckIntradayGap,
				fmt.Sprintf("intraday drop %.2f%% exceeds threshold %.2f%%", gap*100, rules.GapThreshold*100))
		}
		d.note("intraday_gap ok: %.2f%%", gap*100)
	}

	// 5. Short trading day.
	if hour, ok := parseScheduleHour(env.NextChange); ok && env.Session == SessionOpen && hour < shortDayCloseHour {
		return blocked(d, CheckShortDay,
			fmt.Sprintf("shortened session, next close at %s", env.NextChange))
	}
	d.note("short_day ok: next change %q", env.NextChange)

	return d
}

// EntryWindowOpen evaluates only the session-shape checks (start delay,
// short day), skipping the late cutoff and the gap checks. The policy
// engine uses it to decide whether SPREAD_MISSING is actionable; the full
// gate, cutoff and gaps included, still runs before any order is placed.
func EntryWindowOpen(market MarketSnapshot, env EnvStatus, rules models.RuleSet) bool {
	windowed := market
	windowed.PrevClose = 0
	windowed.TodayOpen = 0
	rules.EnforceLateCutoff = false
	return ValidateEntry(windowed, env, rules).OK
}

func blocked(d EntryDecision, check EntryCheck, reason string) EntryDecision {
	d.OK = false
	d.Blocked = check
	d.Reason = fmt.Sprintf("%s: %s", check, reason)
	d.Diagnostics = append(d.Diagnostics, d.Reason)
	return d
}

func (d *EntryDecision) note(format string, args ...any) {
	d.Diagnostics = append(d.Diagnostics, fmt.Sprintf(format, args...))
}

// cutoffFor resolves the rule set's "HH:MM" cutoff on now's calendar day.
// Malformed strings fall back to models.DefaultLateCutoff: a bad config
// narrows the entry window, it never widens it.
func cutoffFor(now time.Time, raw string) time.Time {
	h, m, ok := parseClock(raw)
	if !ok {
		h, m, _ = parseClock(models.DefaultLateCutoff)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
}

func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// parseScheduleHour extracts the hour from a schedule string like "13:00".
// Unparsable strings report !ok and the session is treated as a normal
// day: the short-day heuristic fails open, unlike the entry cutoff.
func parseScheduleHour(s string) (hour int, ok bool) {
	h, _, ok := parseClock(s)
	return h, ok
}
