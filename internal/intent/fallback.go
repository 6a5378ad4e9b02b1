package intent

import (
	"math"

	"github.com/ignite/convoflow/internal/pkg/textmatch"
)

// keywordRules drive the deterministic fallback. Order breaks ties.
var keywordRules = []struct {
	category Category
	keywords []string
}{
	{PurchaseIntent, []string{"購買", "下單", "訂購", "怎麼買", "我要買", "想買", "要一個", "付款方式", "buy", "order", "purchase", "checkout"}},
	{PriceInquiry, []string{"多少錢", "價格", "價錢", "費用", "優惠", "折扣", "報價", "便宜", "太貴", "price", "cost", "how much", "discount"}},
	{Complaint, []string{"投訴", "退款", "退貨", "被騙", "騙人", "差勁", "壞了", "爛", "complain", "refund", "broken", "scam"}},
	{NegativeSentiment, []string{"不需要", "沒興趣", "不要再", "別再", "很煩", "討厭", "封鎖", "滾", "not interested", "stop", "annoying", "spam"}},
	{ProductQuestion, []string{"功能", "規格", "怎麼用", "效果", "成分", "介紹", "適合", "有什麼", "feature", "spec", "how does", "ingredient"}},
	{SupportRequest, []string{"幫忙", "幫助", "怎麼辦", "客服", "協助", "無法", "不能用", "help", "support", "issue"}},
	{PositiveFeedback, []string{"謝謝", "感謝", "很好", "不錯", "喜歡", "太棒", "讚", "thanks", "thank you", "great", "love", "awesome"}},
	{Greeting, []string{"你好", "您好", "哈囉", "嗨", "早安", "午安", "晚安", "hello", "hi", "hey"}},
}

var urgencyKeywords = []string{"急", "馬上", "立刻", "盡快", "儘快", "今天", "現在就", "urgent", "asap", "right now", "immediately"}

var (
	positiveWords = []string{"謝謝", "感謝", "很好", "不錯", "喜歡", "太棒", "讚", "期待", "開心", "thanks", "great", "love", "awesome", "good"}
	negativeWords = []string{"不需要", "沒興趣", "太貴", "很煩", "討厭", "差勁", "爛", "失望", "生氣", "bad", "terrible", "angry", "annoying"}
)

// classifyByKeywords is the deterministic fallback used when the model call
// or its output fails. The category with the most keyword hits wins.
func classifyByKeywords(message string) *Intent {
	best := GeneralChat
	var bestHits []string
	for _, rule := range keywordRules {
		hits := textmatch.Hits(message, rule.keywords)
		if len(hits) > len(bestHits) {
			best = rule.category
			bestHits = hits
		}
	}

	in := &Intent{
		Category:   best,
		Confidence: 0.3,
		Keywords:   bestHits,
		Sentiment:  Neutral,
		Urgency:    UrgencyMedium,
	}
	if len(bestHits) > 0 {
		in.Confidence = math.Min(0.5+0.1*float64(len(bestHits)-1), 0.85)
	}

	pos := len(textmatch.Hits(message, positiveWords))
	neg := len(textmatch.Hits(message, negativeWords))
	switch {
	case best == NegativeSentiment || best == Complaint:
		in.Sentiment = Negative
	case pos > neg:
		in.Sentiment = Positive
	case neg > pos:
		in.Sentiment = Negative
	}

	if textmatch.Any(message, urgencyKeywords) {
		in.Urgency = UrgencyHigh
	} else if best == Greeting || best == GeneralChat {
		in.Urgency = UrgencyLow
	}
	in.SuggestedAction = suggestedAction(best)
	return in
}

func suggestedAction(c Category) string {
	switch c {
	case PurchaseIntent:
		return "guide_to_checkout"
	case PriceInquiry:
		return "share_pricing"
	case ProductQuestion:
		return "explain_product"
	case Complaint:
		return "apologize_and_escalate"
	case NegativeSentiment:
		return "back_off"
	case SupportRequest:
		return "offer_help"
	case PositiveFeedback:
		return "thank_and_continue"
	case Greeting:
		return "greet_back"
	default:
		return "keep_chatting"
	}
}
