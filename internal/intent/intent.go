// Package intent turns raw chat messages into structured intents and keeps a
// running conversation context and interest score per target user.
package intent

import "math"

// Category is the closed set of message intents.
type Category string

const (
	PurchaseIntent    Category = "purchase_intent"
	PriceInquiry      Category = "price_inquiry"
	ProductQuestion   Category = "product_question"
	Complaint         Category = "complaint"
	NegativeSentiment Category = "negative_sentiment"
	PositiveFeedback  Category = "positive_feedback"
	Greeting          Category = "greeting"
	SupportRequest    Category = "support_request"
	GeneralChat       Category = "general_chat"
)

// Categories lists every valid category.
var Categories = []Category{
	PurchaseIntent, PriceInquiry, ProductQuestion, Complaint, NegativeSentiment,
	PositiveFeedback, Greeting, SupportRequest, GeneralChat,
}

// Valid reports whether c is in the closed set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Weight is the interest-score contribution of a category at full confidence.
func (c Category) Weight() int {
	switch c {
	case PurchaseIntent:
		return 30
	case PriceInquiry:
		return 20
	case ProductQuestion, PositiveFeedback:
		return 10
	case SupportRequest:
		return 5
	case Complaint:
		return -10
	case NegativeSentiment:
		return -20
	default:
		return 0
	}
}

// Sentiment of a single message.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// Urgency of a single message.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Intent is the immutable classification of one message.
type Intent struct {
	Category        Category  `json:"category"`
	Confidence      float64   `json:"confidence"`
	SubIntents      []string  `json:"sub_intents,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	Sentiment       Sentiment `json:"sentiment"`
	Urgency         Urgency   `json:"urgency"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
}

// ScoreDelta is the weighted contribution of in to a user's total score.
func (in *Intent) ScoreDelta() int {
	return int(math.Round(float64(in.Category.Weight()) * in.Confidence))
}

// normalize coerces out-of-range fields into the closed sets.
func (in *Intent) normalize() {
	if !in.Category.Valid() {
		in.Category = GeneralChat
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 {
		in.Confidence = 0
	}
	if in.Confidence > 1 {
		in.Confidence = 1
	}
	switch in.Sentiment {
	case Positive, Neutral, Negative:
	default:
		in.Sentiment = Neutral
	}
	switch in.Urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
	default:
		in.Urgency = UrgencyMedium
	}
}
