package command

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

// A stored payload goes through JSON; decoding it again must give back the
// same typed value, including fields the engine does not know about.
func TestDecode_StoredTodo(t *testing.T) {
	remind := time.Date(2026, 10, 19, 9, 0, 0, 0, time.FixedZone("", 2*60*60))
	claimed := time.Date(2026, 10, 19, 7, 0, 5, 0, time.UTC)
	in := TodoPayload{
		Task:              "renew passport",
		Priority:          "medium",
		Status:            StatusPending,
		Tags:              []string{"admin"},
		ReminderTime:      &remind,
		ReminderClaim:     "01JAB",
		ReminderClaimedAt: &claimed,
		Extra:             map[string]any{"location": "city hall"},
	}

	raw, err := json.Marshal(in.Fields())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, err := Decode(Todos, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := p.(TodoPayload)
	if !got.ReminderTime.Equal(remind) || !got.ReminderClaimedAt.Equal(claimed) {
		t.Errorf("timestamps = %v / %v", got.ReminderTime, got.ReminderClaimedAt)
	}
	got.ReminderTime, got.ReminderClaimedAt = nil, nil
	in.ReminderTime, in.ReminderClaimedAt = nil, nil
	if !reflect.DeepEqual(got, in) {
		t.Errorf("Decode = %+v, want %+v", got, in)
	}
}

func TestDecode_UnknownCategory(t *testing.T) {
	if _, err := Decode("fitness", map[string]any{}); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestDecode_WrongType(t *testing.T) {
	_, err := Decode(Dating, map[string]any{"person": 42.0})
	if err == nil {
		t.Fatal("expected error")
	}
	fe, ok := err.(*FieldError)
	if !ok || fe.Field != FieldPerson {
		t.Errorf("err = %v, want FieldError on person", err)
	}
}
