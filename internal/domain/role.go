package domain

// RoleType classifies what a persona contributes to a conversation.
type RoleType string

const (
	RoleAtmosphere   RoleType = "atmosphere"   // keeps the chat lively, low pressure
	RoleEndorsement  RoleType = "endorsement"  // satisfied-customer testimony
	RoleProfessional RoleType = "professional" // product expert, answers price and spec questions
	RoleCare         RoleType = "care"         // support persona for unhappy users
	RoleHost         RoleType = "host"         // community moderator
	RoleGeneral      RoleType = "general"
)

// Role is a logical persona, independent of the account that embodies it.
type Role struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           RoleType `json:"type"`
	Purpose        string   `json:"purpose"`
	Personality    string   `json:"personality"`
	SpeakingStyle  string   `json:"speaking_style"`
	EntryTiming    string   `json:"entry_timing"`
	SampleMessages []string `json:"sample_messages"`
}

// IsFormal reports whether the role expects a formal voice.
func (r Role) IsFormal() bool {
	return r.Type == RoleProfessional || r.Type == RoleCare
}

// AccountRoleMatch binds one automation account to one role.
type AccountRoleMatch struct {
	AccountID    string   `json:"account_id"`
	RoleID       string   `json:"role_id"`
	MatchScore   int      `json:"match_score"`
	MatchReasons []string `json:"match_reasons"`
}

// Forced reports whether the match was assigned below the confidence threshold.
func (m AccountRoleMatch) Forced() bool {
	for _, r := range m.MatchReasons {
		if r == ReasonForcedLowConfidence {
			return true
		}
	}
	return false
}

// ReasonForcedLowConfidence tags a match assigned despite a low score.
const ReasonForcedLowConfidence = "forced_low_confidence"
