package model

// Category is the classification label assigned to a message.
type Category string

const (
	CategoryUrgent     Category = "urgent"
	CategorySpam       Category = "spam"
	CategoryPersonal   Category = "personal"
	CategoryBusiness   Category = "business"
	CategoryNewsletter Category = "newsletter"
	CategorySupport    Category = "support"
	CategoryOther      Category = "other"
)

// ParseCategory maps a classifier label to a Category, falling back to
// CategoryOther for anything unrecognized.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryUrgent, CategorySpam, CategoryPersonal, CategoryBusiness,
		CategoryNewsletter, CategorySupport, CategoryOther:
		return Category(s)
	default:
		return CategoryOther
	}
}

// Sentiment is the overall tone detected in a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps a classifier label to a Sentiment, falling back
// to SentimentNeutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Sentiment(s)
	default:
		return SentimentNeutral
	}
}

// Priority is an ordered urgency level. Higher values are more urgent.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lowercase label for the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a classifier label to a Priority, falling back to
// PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Analysis is the structured classification result for one message.
// It is produced once by the classifier and read-only thereafter.
type Analysis struct {
	Category         Category  `json:"category"`
	Sentiment        Sentiment `json:"sentiment"`
	Priority         Priority  `json:"priority"`
	RequiresResponse bool      `json:"requires_response"`

	// Confidence is the classifier's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// SuggestedActions holds free-form action hints from the classifier.
	// They are informational only; rules drive the actual actions.
	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

// DefaultAnalysis is the fallback used when classification fails to
// produce a usable result.
func DefaultAnalysis() Analysis {
	return Analysis{
		Category:         CategoryOther,
		Sentiment:        SentimentNeutral,
		Priority:         PriorityMedium,
		RequiresResponse: false,
		Confidence:       0,
		SuggestedActions: []string{"manual_review"},
	}
}
