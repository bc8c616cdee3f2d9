package platform

// Filter is one server-side filter clause on a list request.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// OnlyActiveFilter restricts a listing to entities whose effective status
// is ACTIVE. Only meaningful for the mutable, status-bearing entity types.
func OnlyActiveFilter() Filter {
	return Filter{
		Field:    "effective_status",
		Operator: "IN",
		Value:    []string{"ACTIVE"},
	}
}

// ListParams shape a filtered list request.
type ListParams struct {
	Limit     int
	Filtering []Filter
	Fields    []string
}

// TimeRange is a single day-granular report range. The scheduler always
// issues single-day ranges (Since == Until).
type TimeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// InsightsParams shape one async report job submission.
type InsightsParams struct {
	Level                    string
	Breakdowns               []string
	ActionBreakdowns         []string
	ActionAttributionWindows []string
	TimeIncrement            int
	Limit                    int
	Fields                   []string
	TimeRanges               []TimeRange
}
