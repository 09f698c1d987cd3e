package command

// Range bounds a numeric field. Min is exclusive when MinExclusive is set;
// Max applies only when HasMax is set.
type Range struct {
	Min          float64
	MinExclusive bool
	Max          float64
	HasMax       bool
}

func (r Range) contains(v float64) bool {
	if r.MinExclusive {
		if v <= r.Min {
			return false
		}
	} else if v < r.Min {
		return false
	}
	if r.HasMax && v > r.Max {
		return false
	}
	return true
}

// Schema is the static validation table for one category.
type Schema struct {
	Category Category
	// Fields is the closed set of known payload keys.
	Fields map[string]struct{}
	// Required lists the keys that must be present, per action.
	Required map[Action][]string
	// Enums constrains string fields to an allowed set (add only).
	Enums map[string][]string
	// Ranges constrains numeric fields (add only).
	Ranges map[string]Range
	// AnyOf lists numeric fields of which at least one must be present (add only).
	AnyOf []string
}

var registry = map[Category]Schema{
	Finance: {
		Category: Finance,
		Fields:   fieldSet(FieldAmount, FieldDescription, FieldSubcategory, FieldDate, FieldCurrency),
		Required: map[Action][]string{
			ActionAdd: {FieldAmount, FieldDescription, FieldSubcategory},
		},
		Ranges: map[string]Range{
			FieldAmount: {Min: 0, MinExclusive: true},
		},
	},
	NetWorth: {
		Category: NetWorth,
		Fields:   fieldSet(FieldSavings, FieldTrading, FieldDate),
		AnyOf:    []string{FieldSavings, FieldTrading},
	},
	Dating: {
		Category: Dating,
		Fields: fieldSet(FieldPerson, FieldStatus, FieldPlatform, FieldActivity,
			FieldNotes, FieldDate, FieldRating),
		Required: map[Action][]string{
			ActionAdd:    {FieldPerson, FieldStatus},
			ActionRemove: {FieldPerson},
		},
		Enums: map[string][]string{
			FieldStatus: {"active", "texting", "backburner"},
		},
		Ranges: map[string]Range{
			FieldRating: {Min: 1, Max: 5, HasMax: true},
		},
	},
	Todos: {
		Category: Todos,
		Fields: fieldSet(FieldTask, FieldPriority, FieldStatus, FieldDue, FieldTags,
			FieldReminderTime, FieldReminded, FieldReminderClaim, FieldReminderClaimedAt),
		Required: map[Action][]string{
			ActionAdd: {FieldTask, FieldPriority, FieldStatus},
		},
		Enums: map[string][]string{
			FieldPriority: {"high", "medium", "low"},
			FieldStatus:   {StatusPending, StatusInProgress, StatusDone},
		},
	},
	Habits: {
		Category: Habits,
		Fields:   fieldSet(FieldHabit, FieldDate, FieldNotes),
		Required: map[Action][]string{
			ActionAdd: {FieldHabit},
		},
		Enums: map[string][]string{
			FieldHabit: {"apps", "vlogs", "pm"},
		},
	},
	Sleep: {
		Category: Sleep,
		Fields:   fieldSet(FieldScore, FieldDate, FieldNotes),
		Required: map[Action][]string{
			ActionAdd: {FieldScore},
		},
		Ranges: map[string]Range{
			FieldScore: {Min: 0, Max: 10, HasMax: true},
		},
	},
}

// Todo statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Lookup returns the schema for category.
func Lookup(category Category) (Schema, bool) {
	s, ok := registry[category]
	return s, ok
}

func fieldSet(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
