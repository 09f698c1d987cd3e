// Package command holds the structured form of one user action: the raw
// oracle guess (Command), its validated form (Typed), the per-category schema
// registry and the defaulting rules.
package command

// Action is what the user wants done with an entry.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Category is the closed set of entry kinds.
type Category string

const (
	Finance  Category = "finance"
	NetWorth Category = "net_worth"
	Dating   Category = "dating"
	Todos    Category = "todos"
	Habits   Category = "habits"
	Sleep    Category = "sleep"
	Unknown  Category = "unknown"
)

// Categories lists every category an entry can belong to, in display order.
var Categories = []Category{Finance, NetWorth, Dating, Todos, Habits, Sleep}

// Command is the oracle's best-effort structured guess for one message.
// It is never persisted.
type Command struct {
	Action                Action         `json:"action"`
	Category              Category       `json:"category"`
	Data                  map[string]any `json:"data"`
	Confidence            float64        `json:"confidence"`
	NeedsClarification    bool           `json:"needs_clarification"`
	ClarificationQuestion string         `json:"clarification_question,omitempty"`
}

// Typed is a Command that passed validation. Payload is nil only when
// NeedsClarification is set.
type Typed struct {
	Action                Action
	Category              Category
	Payload               Payload
	Confidence            float64
	NeedsClarification    bool
	ClarificationQuestion string
}
