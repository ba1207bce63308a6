package core

// CountEntry is one bucket of a grouped count
type CountEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// EventMetrics aggregates events over a range
type EventMetrics struct {
	Range      TimeRange        `json:"range"`
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"byType"`
	BySeverity map[string]int64 `json:"bySeverity"`
}

// AlertMetrics aggregates alerts whose firstSeen falls in a range
type AlertMetrics struct {
	Range      TimeRange        `json:"range"`
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"byStatus"`
	BySeverity map[string]int64 `json:"bySeverity"`
	// AvgResolutionSeconds is the mean of resolvedAt - firstSeen over
	// RESOLVED alerts; zero when none are resolved
	AvgResolutionSeconds float64 `json:"avgResolutionSeconds"`
	ResolvedCount        int64   `json:"resolvedCount"`
}

// IncidentMetrics aggregates incidents created in a range
type IncidentMetrics struct {
	Range              TimeRange        `json:"range"`
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"byStatus"`
	BySeverity         map[string]int64 `json:"bySeverity"`
	ByType             map[string]int64 `json:"byType"`
	ByPhase            map[string]int64 `json:"byPhase"`
	AvgTimeToCloseSecs float64          `json:"avgTimeToCloseSeconds"`
	ClosedCount        int64            `json:"closedCount"`
}

// Analytics is the combined dashboard view
type Analytics struct {
	Range        TimeRange       `json:"range"`
	Events       EventMetrics    `json:"events"`
	Alerts       AlertMetrics    `json:"alerts"`
	Incidents    IncidentMetrics `json:"incidents"`
	TopSourceIPs []CountEntry    `json:"topSourceIps"`
	TopUsers     []CountEntry    `json:"topUsers"`
}

// CountsToMap folds grouped counts into a map
func CountsToMap(entries []CountEntry) map[string]int64 {
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		out[e.Key] += e.Count
	}
	return out
}

// SumCounts totals grouped counts
func SumCounts(entries []CountEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Count
	}
	return total
}
