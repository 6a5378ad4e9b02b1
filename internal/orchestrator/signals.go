package orchestrator

import (
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
)

// SignalTier grades how close a message is to a sale.
type SignalTier string

const (
	SignalNone      SignalTier = "none"
	SignalConverted SignalTier = "converted"
	SignalHigh      SignalTier = "high"
	SignalMedium    SignalTier = "medium"
	SignalPositive  SignalTier = "positive"
	SignalNegative  SignalTier = "negative"
)

// Signal is a conversion signal found in an inbound message.
type Signal struct {
	Tier    SignalTier `json:"tier"`
	Score   int        `json:"score"`
	Keyword string     `json:"keyword,omitempty"`
}

// Detected reports whether any tier matched.
func (s Signal) Detected() bool { return s.Tier != SignalNone }

// MinStage is the funnel stage this signal guarantees.
func (s Signal) MinStage() domain.FunnelStage {
	switch s.Tier {
	case SignalConverted:
		return domain.StageConversion
	case SignalHigh:
		return domain.StageIntent
	case SignalMedium:
		return domain.StageInterest
	default:
		return domain.StageResponse
	}
}

var (
	convertedKeywords = []string{"已付款", "已經付款", "付款了", "已轉帳", "轉帳了", "已匯款", "匯款了", "已下單", "下單了", "paid", "payment sent", "ordered"}
	highKeywords      = []string{"怎麼買", "我要買", "想買", "購買", "下單", "訂購", "怎麼付款", "buy", "purchase", "sign me up"}
	priceKeywords     = []string{"多少錢", "價格", "價錢", "費用", "優惠", "折扣", "報價", "how much", "price", "cost", "discount"}
	positiveKeywords  = []string{"不錯", "有興趣", "喜歡", "好啊", "可以啊", "聽起來", "謝謝", "interested", "sounds good", "nice", "great"}
	rejectionKeywords = []string{"不需要", "沒興趣", "太貴", "不要", "別再", "騙", "封鎖", "not interested", "stop", "spam"}
)

// DetectConversionSignal grades text, strongest tier first. A negated buying
// or liking word ("還沒付款", "不想買", "not interested") never counts for its
// own tier: negated converted words are dropped, negated buying and liking
// words count as rejection. Price words rank above rejection, so a price
// question never grades negative.
func DetectConversionSignal(text string) Signal {
	if hits, _ := textmatch.SplitHits(text, convertedKeywords); len(hits) > 0 {
		return Signal{Tier: SignalConverted, Score: 100, Keyword: hits[0]}
	}
	high, notHigh := textmatch.SplitHits(text, highKeywords)
	if len(high) > 0 {
		return Signal{Tier: SignalHigh, Score: 85, Keyword: high[0]}
	}
	if hits := textmatch.Hits(text, priceKeywords); len(hits) > 0 {
		return Signal{Tier: SignalMedium, Score: 60, Keyword: hits[0]}
	}
	positive, notPositive := textmatch.SplitHits(text, positiveKeywords)
	rejected := append(textmatch.Hits(text, rejectionKeywords), notHigh...)
	rejected = append(rejected, notPositive...)
	if len(rejected) > 0 {
		return Signal{Tier: SignalNegative, Score: -30, Keyword: rejected[0]}
	}
	if len(positive) > 0 {
		return Signal{Tier: SignalPositive, Score: 40, Keyword: positive[0]}
	}
	return Signal{Tier: SignalNone}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
