package engine

// ClosedSummary aggregates a set of closed-position rows.
type ClosedSummary struct {
	Count         int     `json:"count"`
	TotalPlUSD    float64 `json:"total_pl_usd"`
	TotalInvested float64 `json:"total_invested"`
	TotalPlPct    float64 `json:"total_pl_pct"`
	Winners       int     `json:"winners"`
	Losers        int     `json:"losers"`
	WinRate       float64 `json:"win_rate"`
}

// SummarizeClosed folds closed rows into trade statistics.
func SummarizeClosed(rows []ClosedPosition) ClosedSummary {
	var s ClosedSummary
	for _, row := range rows {
		s.Count++
		s.TotalPlUSD += row.PlUSD
		s.TotalInvested += row.InvestedCost
		if row.PlUSD > 0 {
			s.Winners++
		} else if row.PlUSD < 0 {
			s.Losers++
		}
	}
	if s.TotalInvested != 0 {
		s.TotalPlPct = s.TotalPlUSD / s.TotalInvested * 100
	}
	if s.Count > 0 {
		s.WinRate = float64(s.Winners) / float64(s.Count)
	}
	return s
}

// UnrealizedPl marks the position to a live price. Unrealized P&L needs an
// external price source, so it lives on the output type rather than in the
// replay itself.
func (p OpenPosition) UnrealizedPl(livePrice float64) float64 {
	if p.Direction == Short {
		return p.InvestedOpen - p.QtyOpen*livePrice
	}
	return p.QtyOpen*livePrice - p.InvestedOpen
}
