package orchestrator

import (
	"fmt"

	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
)

// campaignTemplate is the canned plan for one goal category.
type campaignTemplate struct {
	category domain.Category
	keywords []string
	phases   []domain.Phase
	roles    []domain.Role
	tone     []string
}

var standardRules = []domain.AdjustmentRule{
	{Trigger: "analysis", Condition: "readiness > 70 and a next phase exists", Action: string(domain.AdjustAdvance)},
	{Trigger: "analysis", Condition: "sentiment negative", Action: "switch_role:care"},
	{Trigger: "analysis", Condition: "engagement low after 5 sent messages", Action: "switch_role:atmosphere"},
	{Trigger: "analysis", Condition: "price objection", Action: "switch_role:professional"},
}

var defaultForbidden = []string{"政治", "宗教", "保證療效", "投資報酬保證"}

var templates = []campaignTemplate{
	{
		category: domain.CategorySalesConversion,
		keywords: []string{"銷售", "轉化", "成交", "潛在客戶", "跟進", "促單", "業績", "sales", "convert", "conversion", "close deals", "leads"},
		phases: []domain.Phase{
			{Name: "rapport", Goal: "破冰並建立信任", Tactics: []string{"輕鬆問候", "找共同話題"}, FocusRoles: []domain.RoleType{domain.RoleAtmosphere}, SuccessIndicators: []string{"對方回覆", "語氣友善"}},
			{Name: "discovery", Goal: "了解需求與痛點", Tactics: []string{"開放式提問", "分享使用情境"}, FocusRoles: []domain.RoleType{domain.RoleAtmosphere, domain.RoleEndorsement}, SuccessIndicators: []string{"說出需求"}},
			{Name: "value", Goal: "展示產品價值", Tactics: []string{"分享真實見證", "回答專業問題"}, FocusRoles: []domain.RoleType{domain.RoleEndorsement, domain.RoleProfessional}, SuccessIndicators: []string{"詢問價格", "詢問細節"}},
			{Name: "closing", Goal: "促成購買", Tactics: []string{"說明限時優惠", "引導下單流程"}, FocusRoles: []domain.RoleType{domain.RoleProfessional}, SuccessIndicators: []string{"詢問購買方式", "完成付款"}},
		},
		roles: []domain.Role{
			{Name: "熱心朋友", Type: domain.RoleAtmosphere, Purpose: "營造輕鬆氣氛，降低戒心", Personality: "開朗、愛聊天", SpeakingStyle: "口語、短句", EntryTiming: "first", SampleMessages: []string{"嗨～最近好嗎？", "哈哈今天天氣超好，你在忙什麼呀？"}},
			{Name: "老客戶", Type: domain.RoleEndorsement, Purpose: "以使用者身分分享真實體驗", Personality: "真誠、熱情", SpeakingStyle: "分享故事", EntryTiming: "after_rapport", SampleMessages: []string{"我用了一個多月，真的有感覺差很多", "之前我也很猶豫，後來試了覺得很值得"}},
			{Name: "產品顧問", Type: domain.RoleProfessional, Purpose: "回答規格與價格問題並引導成交", Personality: "專業、耐心", SpeakingStyle: "清楚、有條理", EntryTiming: "on_interest", SampleMessages: []string{"您好，我是產品顧問，有任何問題都可以問我", "這個方案目前有優惠，我可以幫您說明細節"}},
		},
		tone: []string{"真誠不推銷", "尊重對方節奏"},
	},
	{
		category: domain.CategoryCommunityActivation,
		keywords: []string{"社群", "活躍", "群組", "互動", "拉新", "冷場", "community", "engagement", "activate", "group"},
		phases: []domain.Phase{
			{Name: "welcome", Goal: "歡迎並引起注意", Tactics: []string{"熱情招呼", "介紹社群主題"}, FocusRoles: []domain.RoleType{domain.RoleHost}},
			{Name: "spark", Goal: "帶動討論", Tactics: []string{"拋出話題", "邀請分享"}, FocusRoles: []domain.RoleType{domain.RoleAtmosphere}},
			{Name: "sustain", Goal: "維持參與", Tactics: []string{"分享心得", "預告活動"}, FocusRoles: []domain.RoleType{domain.RoleEndorsement, domain.RoleHost}},
		},
		roles: []domain.Role{
			{Name: "小編", Type: domain.RoleHost, Purpose: "主持並引導話題", Personality: "活潑、有條理", SpeakingStyle: "親切", SampleMessages: []string{"歡迎加入！最近大家都在聊什麼呢？"}},
			{Name: "活力成員", Type: domain.RoleAtmosphere, Purpose: "帶動氣氛", Personality: "幽默", SpeakingStyle: "口語、表情豐富", SampleMessages: []string{"有人也在等這週的活動嗎？"}},
			{Name: "資深會員", Type: domain.RoleEndorsement, Purpose: "分享參與心得", Personality: "友善", SpeakingStyle: "分享經驗", SampleMessages: []string{"上次的活動我收穫很多，推薦大家參加"}},
		},
		tone: []string{"輕鬆友善"},
	},
	{
		category: domain.CategoryCustomerRetention,
		keywords: []string{"回購", "留存", "老客戶", "續約", "挽回", "流失", "retention", "churn", "loyal", "win back", "renew"},
		phases: []domain.Phase{
			{Name: "check_in", Goal: "關心使用狀況", Tactics: []string{"問候近況", "詢問使用體驗"}, FocusRoles: []domain.RoleType{domain.RoleCare}},
			{Name: "resolve", Goal: "處理疑慮", Tactics: []string{"傾聽問題", "提供解決方案"}, FocusRoles: []domain.RoleType{domain.RoleCare, domain.RoleProfessional}},
			{Name: "reward", Goal: "提供回饋鼓勵回購", Tactics: []string{"專屬優惠", "分享新功能"}, FocusRoles: []domain.RoleType{domain.RoleProfessional, domain.RoleEndorsement}},
		},
		roles: []domain.Role{
			{Name: "客服專員", Type: domain.RoleCare, Purpose: "關心並解決問題", Personality: "溫暖、耐心", SpeakingStyle: "體貼", SampleMessages: []string{"您好，想關心一下最近使用上還順利嗎？"}},
			{Name: "產品顧問", Type: domain.RoleProfessional, Purpose: "說明方案與權益", Personality: "專業", SpeakingStyle: "清楚", SampleMessages: []string{"老客戶這個月有專屬回饋，我幫您說明一下"}},
			{Name: "老客戶", Type: domain.RoleEndorsement, Purpose: "分享長期使用心得", Personality: "真誠", SpeakingStyle: "分享故事", SampleMessages: []string{"我已經用第三年了，越用越順手"}},
		},
		tone: []string{"體貼", "不施壓"},
	},
	{
		category: domain.CategoryProductLaunch,
		keywords: []string{"新品", "上市", "發布", "推出", "預購", "首發", "launch", "new product", "release", "pre-order"},
		phases: []domain.Phase{
			{Name: "teaser", Goal: "製造期待", Tactics: []string{"預告亮點"}, FocusRoles: []domain.RoleType{domain.RoleAtmosphere}},
			{Name: "reveal", Goal: "介紹新品", Tactics: []string{"說明特色", "回答問題"}, FocusRoles: []domain.RoleType{domain.RoleProfessional}},
			{Name: "proof", Goal: "提供社會認同", Tactics: []string{"分享試用心得"}, FocusRoles: []domain.RoleType{domain.RoleEndorsement}},
			{Name: "early_bird", Goal: "促成預購", Tactics: []string{"早鳥優惠", "限量提醒"}, FocusRoles: []domain.RoleType{domain.RoleProfessional}},
		},
		roles: []domain.Role{
			{Name: "產品專家", Type: domain.RoleProfessional, Purpose: "介紹新品規格", Personality: "專業、熱情", SpeakingStyle: "清楚", SampleMessages: []string{"我們新品下週上市，想先讓您知道幾個亮點"}},
			{Name: "試用者", Type: domain.RoleEndorsement, Purpose: "分享試用體驗", Personality: "真誠", SpeakingStyle: "分享故事", SampleMessages: []string{"我搶先試用了，真的比上一代好很多"}},
			{Name: "熱心朋友", Type: domain.RoleAtmosphere, Purpose: "製造話題", Personality: "好奇、活潑", SpeakingStyle: "口語", SampleMessages: []string{"欸你有看到那個新品的消息嗎？"}},
		},
		tone: []string{"興奮但不誇大"},
	},
}

var customTemplate = campaignTemplate{
	category: domain.CategoryCustom,
	phases: []domain.Phase{
		{Name: "engage", Goal: "建立對話", Tactics: []string{"友善問候", "了解需求"}, FocusRoles: []domain.RoleType{domain.RoleGeneral}},
		{Name: "advance", Goal: "推進目標", Tactics: []string{"提供相關資訊", "邀請下一步"}, FocusRoles: []domain.RoleType{domain.RoleGeneral}},
	},
	roles: []domain.Role{
		{Name: "主要聯絡人", Type: domain.RoleGeneral, Purpose: "主導對話", Personality: "友善", SpeakingStyle: "自然", SampleMessages: []string{"你好！想跟你聊聊，有空嗎？"}},
		{Name: "協助夥伴", Type: domain.RoleGeneral, Purpose: "補充資訊", Personality: "熱心", SpeakingStyle: "自然", SampleMessages: []string{"我補充一下，有問題都可以問我們喔"}},
	},
}

// MatchGoal maps a free-text goal to a campaign category. No keyword hits,
// or a tie between categories, yields custom.
func MatchGoal(goal string) domain.GoalIntent {
	best := -1
	var bestHits []string
	tie := false
	for i, t := range templates {
		hits := textmatch.Hits(goal, t.keywords)
		switch {
		case len(hits) > len(bestHits):
			best, bestHits, tie = i, hits, false
		case len(hits) > 0 && len(hits) == len(bestHits):
			tie = true
		}
	}
	if best < 0 || tie {
		return domain.GoalIntent{Category: domain.CategoryCustom}
	}
	conf := 0.5 + 0.1*float64(len(bestHits))
	if conf > 0.95 {
		conf = 0.95
	}
	return domain.GoalIntent{Category: templates[best].category, Confidence: conf, MatchedKeywords: bestHits}
}

func templateFor(c domain.Category) campaignTemplate {
	for _, t := range templates {
		if t.category == c {
			return t
		}
	}
	return customTemplate
}

// buildPlan instantiates a template: fresh role IDs and copied slices.
func (t campaignTemplate) buildPlan(c constraintsDefaults) (domain.Strategy, []domain.Role) {
	roles := make([]domain.Role, len(t.roles))
	for i, r := range t.roles {
		r.ID = fmt.Sprintf("%s-%d", r.Type, i+1)
		r.SampleMessages = append([]string(nil), r.SampleMessages...)
		roles[i] = r
	}
	phases := make([]domain.Phase, len(t.phases))
	for i, p := range t.phases {
		p.Tactics = append([]string(nil), p.Tactics...)
		p.FocusRoles = append([]domain.RoleType(nil), p.FocusRoles...)
		p.SuccessIndicators = append([]string(nil), p.SuccessIndicators...)
		phases[i] = p
	}
	return domain.Strategy{
		Phases:          phases,
		AdjustmentRules: append([]domain.AdjustmentRule(nil), standardRules...),
		Constraints: domain.Constraints{
			DailyMessageCap:    c.dailyCap,
			MaxConsecutiveSame: maxConsecutiveRole,
			ActiveHourStart:    c.activeStart,
			ActiveHourEnd:      c.activeEnd,
			ToneGuidelines:     append([]string(nil), t.tone...),
			ForbiddenTopics:    append([]string(nil), defaultForbidden...),
		},
	}, roles
}

type constraintsDefaults struct {
	dailyCap    int
	activeStart int
	activeEnd   int
}
