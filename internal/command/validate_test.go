package command

import (
	"errors"
	"testing"

	"github.com/kalambet/dashbot/internal/apperr"
)

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	if err == nil {
		t.Fatal("expected a rejection, got nil")
	}
	if !errors.Is(err, apperr.Validation) {
		t.Errorf("error kind = %q, want %q", apperr.KindOf(err), apperr.KindValidation)
	}
	var r *Rejection
	if !errors.As(err, &r) {
		t.Fatalf("error %v is not a *Rejection", err)
	}
	return r
}

func TestValidate_FinanceAdd(t *testing.T) {
	typed, err := Validate(Command{
		Action:   ActionAdd,
		Category: Finance,
		Data: map[string]any{
			"amount":      47.0,
			"description": "dinner",
			"subcategory": "dining_out",
			"merchant":    "Luigi's",
		},
		Confidence: 0.93,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p, ok := typed.Payload.(FinancePayload)
	if !ok {
		t.Fatalf("payload type = %T, want FinancePayload", typed.Payload)
	}
	if p.Amount == nil || *p.Amount != 47 {
		t.Errorf("Amount = %v, want 47", p.Amount)
	}
	if p.Description != "dinner" || p.Subcategory != "dining_out" {
		t.Errorf("payload = %+v", p)
	}
	if p.Extra["merchant"] != "Luigi's" {
		t.Errorf("Extra[merchant] = %v, want round-tripped value", p.Extra["merchant"])
	}
	if typed.Confidence != 0.93 {
		t.Errorf("Confidence = %v, want 0.93", typed.Confidence)
	}
}

func TestValidate_FinanceAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount any
	}{
		{"zero", 0.0},
		{"negative", -12.5},
		{"string", "47"},
		{"bool", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(Command{
				Action:   ActionAdd,
				Category: Finance,
				Data: map[string]any{
					"amount":      tt.amount,
					"description": "dinner",
					"subcategory": "dining_out",
				},
			})
			r := rejection(t, err)
			if r.Field != FieldAmount {
				t.Errorf("Field = %q, want %q", r.Field, FieldAmount)
			}
		})
	}
}

func TestValidate_MissingFields(t *testing.T) {
	_, err := Validate(Command{
		Action:   ActionAdd,
		Category: Finance,
		Data:     map[string]any{"amount": 12.0, "description": "  "},
	})
	r := rejection(t, err)
	if r.Reason != "missing fields" {
		t.Errorf("Reason = %q, want %q", r.Reason, "missing fields")
	}
	want := []string{FieldDescription, FieldSubcategory}
	if len(r.Missing) != len(want) || r.Missing[0] != want[0] || r.Missing[1] != want[1] {
		t.Errorf("Missing = %v, want %v", r.Missing, want)
	}
}

func TestValidate_UnknownCategory(t *testing.T) {
	for _, c := range []Category{Unknown, "fitness", ""} {
		_, err := Validate(Command{Action: ActionAdd, Category: c, Data: map[string]any{}})
		r := rejection(t, err)
		if r.Reason != "unknown category" {
			t.Errorf("category %q: Reason = %q, want unknown category", c, r.Reason)
		}
	}
}

func TestValidate_UnknownAction(t *testing.T) {
	_, err := Validate(Command{Action: "update", Category: Sleep, Data: map[string]any{"score": 7.0}})
	r := rejection(t, err)
	if r.Reason != "unknown action" {
		t.Errorf("Reason = %q, want unknown action", r.Reason)
	}
}

func TestValidate_SleepScoreRange(t *testing.T) {
	for _, score := range []float64{-0.5, 10.5, 11} {
		_, err := Validate(Command{Action: ActionAdd, Category: Sleep, Data: map[string]any{"score": score}})
		rejection(t, err)
	}
	for _, score := range []float64{0, 7.5, 10} {
		if _, err := Validate(Command{Action: ActionAdd, Category: Sleep, Data: map[string]any{"score": score}}); err != nil {
			t.Errorf("score %v: unexpected error %v", score, err)
		}
	}
}

func TestValidate_NetWorthNeedsOneAmount(t *testing.T) {
	_, err := Validate(Command{Action: ActionAdd, Category: NetWorth, Data: map[string]any{"date": "2026-10-01"}})
	rejection(t, err)

	typed, err := Validate(Command{Action: ActionAdd, Category: NetWorth, Data: map[string]any{"trading": 1200.0}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := typed.Payload.(NetWorthPayload)
	if p.Savings != nil || p.Trading == nil || *p.Trading != 1200 {
		t.Errorf("payload = %+v", p)
	}
}

func TestValidate_DatingEnum(t *testing.T) {
	_, err := Validate(Command{
		Action:   ActionAdd,
		Category: Dating,
		Data:     map[string]any{"person": "Sarah", "status": "married"},
	})
	r := rejection(t, err)
	if r.Field != FieldStatus {
		t.Errorf("Field = %q, want status", r.Field)
	}

	_, err = Validate(Command{
		Action:   ActionAdd,
		Category: Dating,
		Data:     map[string]any{"person": "Sarah", "status": "texting", "rating": 6.0},
	})
	r = rejection(t, err)
	if r.Field != FieldRating {
		t.Errorf("Field = %q, want rating", r.Field)
	}
}

func TestValidate_TodoReminderTime(t *testing.T) {
	base := map[string]any{"task": "call mom", "priority": "high", "status": "pending"}

	naive := withoutKeys(base, nil)
	naive["reminder_time"] = "2026-10-18T09:00:00"
	_, err := Validate(Command{Action: ActionAdd, Category: Todos, Data: naive})
	r := rejection(t, err)
	if r.Field != FieldReminderTime {
		t.Errorf("Field = %q, want reminder_time", r.Field)
	}

	aware := withoutKeys(base, nil)
	aware["reminder_time"] = "2026-10-18T09:00:00+02:00"
	aware["reminded"] = true
	typed, err := Validate(Command{Action: ActionAdd, Category: Todos, Data: aware})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := typed.Payload.(TodoPayload)
	if p.ReminderTime == nil {
		t.Fatal("ReminderTime is nil")
	}
	if p.Reminded {
		t.Error("Reminded = true, want oracle-supplied flag dropped on add")
	}
}

func TestValidate_RemoveSkipsConstraints(t *testing.T) {
	typed, err := Validate(Command{
		Action:   ActionRemove,
		Category: Finance,
		Data:     map[string]any{"amount": "47"},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := typed.Payload.(FinancePayload)
	if p.Amount != nil {
		t.Errorf("Amount = %v, want nil for mistyped criterion", *p.Amount)
	}
	if p.Extra["amount"] != "47" {
		t.Errorf("Extra[amount] = %v, want kept", p.Extra["amount"])
	}
}

func TestValidate_DatingRemoveRequiresPerson(t *testing.T) {
	_, err := Validate(Command{Action: ActionRemove, Category: Dating, Data: map[string]any{"status": "active"}})
	r := rejection(t, err)
	if len(r.Missing) != 1 || r.Missing[0] != FieldPerson {
		t.Errorf("Missing = %v, want [person]", r.Missing)
	}

	if _, err := Validate(Command{Action: ActionRemove, Category: Dating, Data: map[string]any{"person": "Sarah"}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_ClarificationBypass(t *testing.T) {
	typed, err := Validate(Command{
		Action:                "???",
		Category:              Unknown,
		NeedsClarification:    true,
		ClarificationQuestion: "Did you mean dinner or lunch?",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !typed.NeedsClarification || typed.ClarificationQuestion != "Did you mean dinner or lunch?" {
		t.Errorf("typed = %+v", typed)
	}
	if typed.Payload != nil {
		t.Errorf("Payload = %v, want nil", typed.Payload)
	}
}
