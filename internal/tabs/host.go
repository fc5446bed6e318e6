package tabs

// Routes the coordinator and guards navigate to.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Window is the host page the tab runs in.
type Window interface {
	Focus()
	Navigate(path string)
	// URL is the full current location, stored alongside the logical path.
	URL() string
}

// Notifier shows desktop notifications when the user has allowed them.
type Notifier interface {
	Permitted() bool
	Notify(title, body string) error
}

type Action string

const (
	ActionContinue     Action = "continue"
	ActionLogout       Action = "logout"
	ActionAutoRedirect Action = "auto_redirect"
)

// Registration is the outcome of RegisterTab.
type Registration struct {
	IsDuplicate bool    `json:"isDuplicate"`
	ExistingTab *Record `json:"existingTab,omitempty"`
	Action      Action  `json:"action"`
}

type State int

const (
	StateInitializing State = iota
	StateActive
	StateDuplicateDetected
	StateAuthLost
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDuplicateDetected:
		return "duplicate_detected"
	case StateAuthLost:
		return "auth_lost"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
