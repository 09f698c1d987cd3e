package command

import "time"

// ApplyDefaults fills absent optional fields of an add command. It only ever
// sets missing values, so applying it twice is the same as applying it once.
// Removal criteria and clarification requests are returned unchanged: a
// defaulted date would bias matching toward today's entries.
//
// now should already be in the user's configured timezone.
func ApplyDefaults(t Typed, now time.Time) Typed {
	if t.Action != ActionAdd || t.Payload == nil {
		return t
	}
	today := now.Format(DateLayout)

	switch p := t.Payload.(type) {
	case FinancePayload:
		if p.Date == "" {
			p.Date = today
		}
		t.Payload = p
	case NetWorthPayload:
		if p.Date == "" {
			p.Date = today
		}
		t.Payload = p
	case DatingPayload:
		if p.Date == "" {
			p.Date = today
		}
		t.Payload = p
	case TodoPayload:
		if p.Status == "" {
			p.Status = StatusPending
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		t.Payload = p
	case HabitPayload:
		if p.Date == "" {
			p.Date = today
		}
		t.Payload = p
	case SleepPayload:
		if p.Date == "" {
			p.Date = today
		}
		t.Payload = p
	}
	return t
}
