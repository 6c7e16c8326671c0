package regime

// Disposition is the classified market regime
type Disposition string

const (
	StrongBear Disposition = "strong_bear"
	Bear       Disposition = "bear"
	Neutral    Disposition = "neutral"
	Bull       Disposition = "bull"
	StrongBull Disposition = "strong_bull"
)

// ordered from most bearish to most bullish
var dispositionOrder = []Disposition{StrongBear, Bear, Neutral, Bull, StrongBull}

// Tier returns -2 (strong_bear) .. +2 (strong_bull)
func (d Disposition) Tier() int {
	for i, o := range dispositionOrder {
		if o == d {
			return i - 2
		}
	}
	return 0
}

func (d Disposition) Bullish() bool { return d.Tier() > 0 }
func (d Disposition) Bearish() bool { return d.Tier() < 0 }

// NetDeltaTarget is the recommended beta-weighted portfolio delta for the disposition
func (d Disposition) NetDeltaTarget() int {
	switch d {
	case StrongBull:
		return 60
	case Bull:
		return 30
	case Bear:
		return -30
	case StrongBear:
		return -60
	default:
		return 0
	}
}

// Shift moves the disposition n tiers (negative is bearish), clamped to the ends
func (d Disposition) Shift(n int) Disposition {
	i := d.Tier() + 2 + n
	if i < 0 {
		i = 0
	}
	if i >= len(dispositionOrder) {
		i = len(dispositionOrder) - 1
	}
	return dispositionOrder[i]
}

// DispositionForScore bands a total signal score. Monotonic in total.
func DispositionForScore(total int) Disposition {
	switch {
	case total >= 7:
		return StrongBull
	case total >= 3:
		return Bull
	case total >= -2:
		return Neutral
	case total >= -6:
		return Bear
	default:
		return StrongBear
	}
}

// ParseDisposition maps a label back to a Disposition
func ParseDisposition(s string) (Disposition, bool) {
	for _, d := range dispositionOrder {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}
