package project

// Project is the latest known state of a project as served by the backend.
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Agent is one online agent within a project roster.
type Agent struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Model string   `json:"model,omitempty"`
	Lead  bool     `json:"lead,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

// DisplayName returns the agent name, falling back to a truncated id.
func (a Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if len(a.ID) > 8 {
		return a.ID[:8]
	}
	return a.ID
}

// Status bundles the two independently-updated facts about a project: the
// online flag and the online-agent roster. They are carried together on the
// wire but always written as two separate per-field commits, so a stale
// writer of one field can never clobber the other.
type Status struct {
	Online bool    `json:"online"`
	Agents []Agent `json:"agents,omitempty"`
}
