// Package matcher assigns automation accounts to campaign roles.
package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/convoflow/internal/account"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
)

// DefaultMinScore is the confidence threshold below which matches are forced.
const DefaultMinScore = 10

const (
	scoreOnline     = 10
	scoreNameStyle  = 20
	scoreTypeCue    = 15
	penaltyPerReuse = 20
)

// Options controls matching policy.
type Options struct {
	// AllowMultiRole lets one account embody several roles, with a penalty
	// per prior assignment.
	AllowMultiRole bool
	// AllowOffline falls back to offline accounts when none is online.
	AllowOffline bool
}

// Matcher scores accounts against roles.
type Matcher struct {
	dir      account.Directory
	minScore int
}

// New creates a matcher. minScore <= 0 uses DefaultMinScore.
func New(dir account.Directory, minScore int) *Matcher {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Matcher{dir: dir, minScore: minScore}
}

// Match assigns an account to each role in order. Roles that cannot be
// covered are left out, so the result may be shorter than roles. Low scoring
// assignments are still made and reported in the warnings.
func (m *Matcher) Match(ctx context.Context, roles []domain.Role, goal domain.GoalIntent, opts Options) ([]domain.AccountRoleMatch, []string, error) {
	all, err := m.dir.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("matcher: list accounts: %w", err)
	}
	candidates := candidateAccounts(all, opts.AllowOffline)

	var (
		matches  []domain.AccountRoleMatch
		warnings []string
		uses     = make(map[string]int)
	)
	for _, role := range roles {
		best, bestScore, reasons, ok := m.pick(role, candidates, uses, opts.AllowMultiRole)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no account available for role %s", role.Name))
			continue
		}
		if bestScore < m.minScore {
			reasons = append(reasons, domain.ReasonForcedLowConfidence)
			warnings = append(warnings, fmt.Sprintf("account %s forced onto role %s with score %d", best.ID, role.Name, bestScore))
		}
		if bestScore < 0 {
			bestScore = 0
		}
		if bestScore > 100 {
			bestScore = 100
		}
		uses[best.ID]++
		matches = append(matches, domain.AccountRoleMatch{
			AccountID:    best.ID,
			RoleID:       role.ID,
			MatchScore:   bestScore,
			MatchReasons: reasons,
		})
	}

	logger.Info("accounts matched to roles",
		"category", string(goal.Category),
		"roles", len(roles),
		"candidates", len(candidates),
		"matched", len(matches),
	)
	return matches, warnings, nil
}

func (m *Matcher) pick(role domain.Role, candidates []domain.Account, uses map[string]int, multi bool) (domain.Account, int, []string, bool) {
	var (
		best        domain.Account
		bestScore   int
		bestReasons []string
		found       bool
	)
	for _, a := range candidates {
		if !multi && uses[a.ID] > 0 {
			continue
		}
		score, reasons := scoreAccount(a, role)
		if n := uses[a.ID]; n > 0 {
			score -= penaltyPerReuse * n
			reasons = append(reasons, fmt.Sprintf("reused:%d", n))
		}
		if !found || score > bestScore {
			best, bestScore, bestReasons, found = a, score, reasons, true
		}
	}
	return best, bestScore, bestReasons, found
}

// candidateAccounts returns online accounts ordered AI, Sender, Listener, or
// the usable offline ones when no account is online and allowOffline is set.
func candidateAccounts(all []domain.Account, allowOffline bool) []domain.Account {
	var online, offline []domain.Account
	for _, a := range all {
		switch {
		case a.IsOnline():
			online = append(online, a)
		case a.IsUsableOffline():
			offline = append(offline, a)
		}
	}
	out := online
	if len(out) == 0 && allowOffline {
		out = offline
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Role.Priority() < out[j].Role.Priority() })
	return out
}

var (
	formalNameCues = []string{"Dr", "Mr", "Ms", "Mrs", "顧問", "經理", "專員", "醫師", "老師", "總監", "主任", "專家", "consultant", "advisor", "manager"}
	casualNameCues = []string{"小", "阿", "寶", "哥", "姐", "妹", "醬", "~", "～", "😊", "❤", "lol", "baby"}
)

var typeCues = map[domain.RoleType][]string{
	domain.RoleProfessional: {"顧問", "專員", "經理", "醫師", "老師", "專家", "Dr", "consultant", "advisor", "expert"},
	domain.RoleCare:         {"客服", "服務", "小幫手", "關懷", "support", "care", "helper"},
	domain.RoleAtmosphere:   {"小", "阿", "哥", "姐", "~", "～", "😊", "lol"},
	domain.RoleEndorsement:  {"媽", "爸", "姐", "粉絲", "老客", "會員", "fan", "mom", "dad"},
	domain.RoleHost:         {"小編", "管理", "主持", "群主", "admin", "host"},
}

// nameStyle classifies a display name as formal, casual or neither.
func nameStyle(name string) string {
	formal := textmatch.Any(name, formalNameCues)
	casual := textmatch.Any(name, casualNameCues)
	switch {
	case formal && !casual:
		return "formal"
	case casual && !formal:
		return "casual"
	default:
		return ""
	}
}

func scoreAccount(a domain.Account, role domain.Role) (int, []string) {
	score := 0
	var reasons []string
	if a.IsOnline() {
		score += scoreOnline
		reasons = append(reasons, "online")
	}

	want := "casual"
	if role.IsFormal() {
		want = "formal"
	}
	if style := nameStyle(a.Name); style == want {
		score += scoreNameStyle
		reasons = append(reasons, "name_style_"+style)
	}

	if hits := textmatch.Hits(a.Name, typeCues[role.Type]); len(hits) > 0 {
		score += scoreTypeCue
		reasons = append(reasons, "type_cue:"+hits[0])
	}
	return score, reasons
}
