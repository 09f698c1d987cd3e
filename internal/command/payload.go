package command

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Field names used in entry payloads.
const (
	FieldAmount            = "amount"
	FieldDescription       = "description"
	FieldSubcategory       = "subcategory"
	FieldDate              = "date"
	FieldCurrency          = "currency"
	FieldSavings           = "savings"
	FieldTrading           = "trading"
	FieldPerson            = "person"
	FieldStatus            = "status"
	FieldPlatform          = "platform"
	FieldActivity          = "activity"
	FieldNotes             = "notes"
	FieldRating            = "rating"
	FieldTask              = "task"
	FieldPriority          = "priority"
	FieldDue               = "due"
	FieldTags              = "tags"
	FieldReminderTime      = "reminder_time"
	FieldReminded          = "reminded"
	FieldReminderClaim     = "reminder_claim"
	FieldReminderClaimedAt = "reminder_claimed_at"
	FieldHabit             = "habit"
	FieldScore             = "score"
)

// DateLayout is the calendar date format used by every date field.
const DateLayout = "2006-01-02"

// Payload is the category-specific body of an entry. Known fields are typed;
// anything else the oracle sent is kept in Extra and written back unchanged.
type Payload interface {
	Category() Category
	// Fields flattens the payload back into the stored map form.
	Fields() map[string]any
}

type FinancePayload struct {
	Amount      *float64
	Description string
	Subcategory string
	Date        string
	Currency    string
	Extra       map[string]any
}

type NetWorthPayload struct {
	Savings *float64
	Trading *float64
	Date    string
	Extra   map[string]any
}

type DatingPayload struct {
	Person   string
	Status   string
	Platform string
	Activity string
	Notes    string
	Date     string
	Rating   *float64
	Extra    map[string]any
}

// TodoPayload embeds the reminder state machine: ReminderTime set means
// scheduled, Reminded true means delivered. ReminderClaim and
// ReminderClaimedAt are written by the scheduler while a delivery is in flight.
type TodoPayload struct {
	Task              string
	Priority          string
	Status            string
	Due               string
	Tags              []string
	ReminderTime      *time.Time
	Reminded          bool
	ReminderClaim     string
	ReminderClaimedAt *time.Time
	Extra             map[string]any
}

type HabitPayload struct {
	Habit string
	Date  string
	Notes string
	Extra map[string]any
}

type SleepPayload struct {
	Score *float64
	Date  string
	Notes string
	Extra map[string]any
}

func (FinancePayload) Category() Category  { return Finance }
func (NetWorthPayload) Category() Category { return NetWorth }
func (DatingPayload) Category() Category   { return Dating }
func (TodoPayload) Category() Category     { return Todos }
func (HabitPayload) Category() Category    { return Habits }
func (SleepPayload) Category() Category    { return Sleep }

func (p FinancePayload) Fields() map[string]any {
	m := base(p.Extra)
	setNumber(m, FieldAmount, p.Amount)
	setString(m, FieldDescription, p.Description)
	setString(m, FieldSubcategory, p.Subcategory)
	setString(m, FieldDate, p.Date)
	setString(m, FieldCurrency, p.Currency)
	return m
}

func (p NetWorthPayload) Fields() map[string]any {
	m := base(p.Extra)
	setNumber(m, FieldSavings, p.Savings)
	setNumber(m, FieldTrading, p.Trading)
	setString(m, FieldDate, p.Date)
	return m
}

func (p DatingPayload) Fields() map[string]any {
	m := base(p.Extra)
	setString(m, FieldPerson, p.Person)
	setString(m, FieldStatus, p.Status)
	setString(m, FieldPlatform, p.Platform)
	setString(m, FieldActivity, p.Activity)
	setString(m, FieldNotes, p.Notes)
	setString(m, FieldDate, p.Date)
	setNumber(m, FieldRating, p.Rating)
	return m
}

func (p TodoPayload) Fields() map[string]any {
	m := base(p.Extra)
	setString(m, FieldTask, p.Task)
	setString(m, FieldPriority, p.Priority)
	setString(m, FieldStatus, p.Status)
	setString(m, FieldDue, p.Due)
	if p.Tags != nil {
		m[FieldTags] = append([]string{}, p.Tags...)
	}
	if p.ReminderTime != nil {
		m[FieldReminderTime] = p.ReminderTime.Format(time.RFC3339)
		m[FieldReminded] = p.Reminded
	}
	setString(m, FieldReminderClaim, p.ReminderClaim)
	if p.ReminderClaimedAt != nil {
		m[FieldReminderClaimedAt] = p.ReminderClaimedAt.UTC().Format(time.RFC3339)
	}
	return m
}

func (p HabitPayload) Fields() map[string]any {
	m := base(p.Extra)
	setString(m, FieldHabit, p.Habit)
	setString(m, FieldDate, p.Date)
	setString(m, FieldNotes, p.Notes)
	return m
}

func (p SleepPayload) Fields() map[string]any {
	m := base(p.Extra)
	setNumber(m, FieldScore, p.Score)
	setString(m, FieldDate, p.Date)
	setString(m, FieldNotes, p.Notes)
	return m
}

// Decode builds the typed payload for category from a stored or
// oracle-supplied map. Known fields with the wrong type are an error.
func Decode(category Category, data map[string]any) (Payload, error) {
	d := decoder{data: data, strict: true}
	p := d.payload(category)
	if p == nil {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if d.err != nil {
		return nil, d.err
	}
	return p, nil
}

// DecodeLenient is the lenient form of Decode, used for removal criteria and
// for reading stored candidates:
// known fields with the wrong type are kept in Extra and take no part in
// matching.
func DecodeLenient(category Category, data map[string]any) (Payload, error) {
	d := decoder{data: data}
	p := d.payload(category)
	if p == nil {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	return p, nil
}

type decoder struct {
	data   map[string]any
	strict bool
	extra  map[string]any
	err    error
}

func (d *decoder) payload(category Category) Payload {
	d.extra = make(map[string]any)
	for k, v := range d.data {
		if !isKnownField(category, k) {
			d.extra[k] = v
		}
	}

	switch category {
	case Finance:
		return FinancePayload{
			Amount:      d.number(FieldAmount),
			Description: d.str(FieldDescription),
			Subcategory: d.str(FieldSubcategory),
			Date:        d.str(FieldDate),
			Currency:    d.str(FieldCurrency),
			Extra:       d.rest(),
		}
	case NetWorth:
		return NetWorthPayload{
			Savings: d.number(FieldSavings),
			Trading: d.number(FieldTrading),
			Date:    d.str(FieldDate),
			Extra:   d.rest(),
		}
	case Dating:
		return DatingPayload{
			Person:   d.str(FieldPerson),
			Status:   d.str(FieldStatus),
			Platform: d.str(FieldPlatform),
			Activity: d.str(FieldActivity),
			Notes:    d.str(FieldNotes),
			Date:     d.str(FieldDate),
			Rating:   d.number(FieldRating),
			Extra:    d.rest(),
		}
	case Todos:
		return TodoPayload{
			Task:              d.str(FieldTask),
			Priority:          d.str(FieldPriority),
			Status:            d.str(FieldStatus),
			Due:               d.str(FieldDue),
			Tags:              d.strings(FieldTags),
			ReminderTime:      d.timestamp(FieldReminderTime),
			Reminded:          d.boolean(FieldReminded),
			ReminderClaim:     d.str(FieldReminderClaim),
			ReminderClaimedAt: d.timestamp(FieldReminderClaimedAt),
			Extra:             d.rest(),
		}
	case Habits:
		return HabitPayload{
			Habit: d.str(FieldHabit),
			Date:  d.str(FieldDate),
			Notes: d.str(FieldNotes),
			Extra: d.rest(),
		}
	case Sleep:
		return SleepPayload{
			Score: d.number(FieldScore),
			Date:  d.str(FieldDate),
			Notes: d.str(FieldNotes),
			Extra: d.rest(),
		}
	}
	return nil
}

func (d *decoder) rest() map[string]any {
	if len(d.extra) == 0 {
		return nil
	}
	return d.extra
}

// mistyped records a known field whose value has the wrong type.
func (d *decoder) mistyped(key string, v any, want string) {
	if !d.strict {
		d.extra[key] = v
		return
	}
	if d.err == nil {
		d.err = &FieldError{Field: key, Value: v, Reason: "must be " + want}
	}
}

func (d *decoder) str(key string) string {
	v, ok := d.data[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.mistyped(key, v, "a string")
		return ""
	}
	return s
}

func (d *decoder) number(key string) *float64 {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		d.mistyped(key, v, "a number")
		return nil
	}
	return &f
}

func (d *decoder) boolean(key string) bool {
	v, ok := d.data[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.mistyped(key, v, "a boolean")
		return false
	}
	return b
}

func (d *decoder) strings(key string) []string {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				d.mistyped(key, v, "a list of strings")
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	d.mistyped(key, v, "a list of strings")
	return nil
}

// timestamp accepts only RFC 3339 values, which always carry a UTC offset.
func (d *decoder) timestamp(key string) *time.Time {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		if t == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			d.mistyped(key, v, "an RFC 3339 timestamp with offset")
			return nil
		}
		return &parsed
	}
	d.mistyped(key, v, "an RFC 3339 timestamp with offset")
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isKnownField(category Category, key string) bool {
	s, ok := registry[category]
	if !ok {
		return false
	}
	_, known := s.Fields[key]
	return known
}

func base(extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+8)
	maps.Copy(m, extra)
	return m
}

func setString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func setNumber(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}
