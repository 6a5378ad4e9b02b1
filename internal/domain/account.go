package domain

// AccountStatus is the connectivity state reported by the account manager.
type AccountStatus string

const (
	AccountOnline  AccountStatus = "Online"
	AccountOffline AccountStatus = "Offline"
	AccountError   AccountStatus = "Error"
	AccountBanned  AccountStatus = "Banned"
)

// AccountRole is the operational role of an automation account.
type AccountRole string

const (
	AccountRoleAI       AccountRole = "AI"
	AccountRoleSender   AccountRole = "Sender"
	AccountRoleListener AccountRole = "Listener"
)

// Priority orders account roles for candidate selection. Lower is preferred.
func (r AccountRole) Priority() int {
	switch r {
	case AccountRoleAI:
		return 0
	case AccountRoleSender:
		return 1
	case AccountRoleListener:
		return 2
	default:
		return 3
	}
}

// Account is an automation identity on the chat platform.
type Account struct {
	ID     string        `json:"id"`
	Phone  string        `json:"phone"`
	Name   string        `json:"name"`
	Status AccountStatus `json:"status"`
	Role   AccountRole   `json:"role"`
}

// IsOnline reports whether the account can send right now.
func (a Account) IsOnline() bool { return a.Status == AccountOnline }

// IsUsableOffline reports whether an offline account may still be assigned.
func (a Account) IsUsableOffline() bool {
	return a.Status != AccountOnline && a.Status != AccountError && a.Status != AccountBanned
}
