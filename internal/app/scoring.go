package app

// ScoreFunc computes the award for one answer. Implementations must return 0
// for incorrect answers and a non-negative value otherwise; the transaction
// logic never inspects the curve.
type ScoreFunc func(correct bool, remainingSeconds, timerSeconds int) int

// BaseBonusScore is the platform's base-plus-time-bonus curve: a fixed base
// award for a correct answer plus a bonus proportional to the time left on
// the shared countdown. Inputs are clamped, so a client reporting more time
// than the timer allows never earns above base+maxBonus.
func BaseBonusScore(base, maxBonus int) ScoreFunc {
	return func(correct bool, remainingSeconds, timerSeconds int) int {
		if !correct {
			return 0
		}
		if timerSeconds <= 0 {
			return base
		}
		if remainingSeconds < 0 {
			remainingSeconds = 0
		}
		if remainingSeconds > timerSeconds {
			remainingSeconds = timerSeconds
		}
		return base + maxBonus*remainingSeconds/timerSeconds
	}
}

// DefaultScore is the curve used when none is configured.
var DefaultScore = BaseBonusScore(100, 100)

// MaxAward returns the highest value fn can hand out for a single question,
// used to bound leaderboard sanity checks.
func MaxAward(fn ScoreFunc, timerSeconds int) int {
	return fn(true, timerSeconds, timerSeconds)
}
