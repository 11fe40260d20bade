package assistant

const maxSuggestions = 3

var defaultQuestions = []string{
	"Where is my order?",
	"Which model fits my needs?",
	"How much does shipping cost to my ZIP code?",
}

var toolQuestions = map[string][]string{
	ToolOrderStatus:       {"Can I schedule my delivery appointment?", "When will my order ship?"},
	ToolManageAppointment: {"Can I change my appointment time?", "What should I prepare before delivery?"},
	ToolRecommendProduct:  {"How much does shipping cost to my ZIP code?", "What does the warranty cover?"},
	ToolEstimateShipping:  {"How long does delivery take?", "Which model fits my needs?"},
	ToolSearchFAQ:         {"What does the warranty cover?", "What is your return policy?"},
}

var categoryQuestions = map[string][]string{
	"warranty": {"How do I file a warranty claim?"},
	"shipping": {"How much does shipping cost to my ZIP code?"},
	"returns":  {"How do I start a return?"},
	"products": {"Which model fits my needs?"},
	"delivery": {"Can I schedule my delivery appointment?"},
}

// suggestQuestions derives follow-ups from the tools used, then from the
// categories of retrieved sources, then from defaults. Output is deterministic.
func suggestQuestions(tools []string, hits []hit) []string {
	seen := map[string]bool{}
	out := make([]string, 0, maxSuggestions)
	add := func(qs []string) {
		for _, q := range qs {
			if len(out) == maxSuggestions {
				return
			}
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	for _, t := range tools {
		add(toolQuestions[t])
	}
	for _, h := range hits {
		add(categoryQuestions[h.chunk.Category])
	}
	add(defaultQuestions)
	return out
}
