package service

const (
	riskWeightBotUserAgent        = 0.3
	riskWeightRecentFailures      = 0.2
	riskWeightFlaggedIP           = 0.2
	riskWeightHighRequestRate     = 0.15
	riskWeightGeoAnomaly          = 0.15
	riskWeightSuspiciousUserAgent = 0.1

	// RecentFailureThreshold is the number of failed attempts from one IP
	// inside the lookback window above which the failure signal fires.
	RecentFailureThreshold = 3
	// HighRiskThreshold marks an event score as high risk.
	HighRiskThreshold = 0.7
)

// RiskSignals are the independent inputs to a risk score.
type RiskSignals struct {
	BotUserAgent        bool `json:"botUserAgent"`
	RecentFailures      int  `json:"recentFailures"`
	FlaggedIP           bool `json:"flaggedIp"`
	HighRequestRate     bool `json:"highRequestRate"`
	GeoAnomaly          bool `json:"geoAnomaly"`
	SuspiciousUserAgent bool `json:"suspiciousUserAgent"`
}

// ScoreRisk returns a weighted sum of signals clamped to [0, 1].
func ScoreRisk(signals RiskSignals) float64 {
	score := 0.0
	if signals.BotUserAgent {
		score += riskWeightBotUserAgent
	}
	if signals.RecentFailures > RecentFailureThreshold {
		score += riskWeightRecentFailures
	}
	if signals.FlaggedIP {
		score += riskWeightFlaggedIP
	}
	if signals.HighRequestRate {
		score += riskWeightHighRequestRate
	}
	if signals.GeoAnomaly {
		score += riskWeightGeoAnomaly
	}
	if signals.SuspiciousUserAgent {
		score += riskWeightSuspiciousUserAgent
	}
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
