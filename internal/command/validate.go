package command

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/kalambet/dashbot/internal/apperr"
)

// Rejection explains why a command failed validation. It is logged, never
// shown to the user verbatim.
type Rejection struct {
	Reason  string
	Missing []string
	Field   string
	Value   any
}

func (r *Rejection) Error() string {
	switch {
	case len(r.Missing) > 0:
		return fmt.Sprintf("%s: %s", r.Reason, strings.Join(r.Missing, ", "))
	case r.Field != "":
		return fmt.Sprintf("%s: %s=%v", r.Reason, r.Field, r.Value)
	default:
		return r.Reason
	}
}

// FieldError reports a known field carrying a value of the wrong type.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s %s (got %v)", e.Field, e.Reason, e.Value)
}

// engineOwned are todo fields only the reminder scheduler may set.
var engineOwned = []string{FieldReminded, FieldReminderClaim, FieldReminderClaimedAt}

// Validate checks cmd against the schema registry. A command flagged for
// clarification is passed through untouched. Failures are *Rejection values
// wrapped with apperr.KindValidation.
func Validate(cmd Command) (Typed, error) {
	if cmd.NeedsClarification {
		return Typed{
			Action:                cmd.Action,
			Category:              cmd.Category,
			Confidence:            cmd.Confidence,
			NeedsClarification:    true,
			ClarificationQuestion: cmd.ClarificationQuestion,
		}, nil
	}

	schema, ok := Lookup(cmd.Category)
	if !ok {
		return Typed{}, reject(&Rejection{Reason: "unknown category", Field: "category", Value: cmd.Category})
	}
	if cmd.Action != ActionAdd && cmd.Action != ActionRemove {
		return Typed{}, reject(&Rejection{Reason: "unknown action", Field: "action", Value: cmd.Action})
	}

	if missing := missingFields(schema.Required[cmd.Action], cmd.Data); len(missing) > 0 {
		return Typed{}, reject(&Rejection{Reason: "missing fields", Missing: missing})
	}

	var (
		payload Payload
		err     error
	)
	if cmd.Action == ActionAdd {
		data := withoutKeys(cmd.Data, engineOwned)
		payload, err = Decode(cmd.Category, data)
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				return Typed{}, reject(&Rejection{Reason: "invalid field type", Field: fe.Field, Value: fe.Value})
			}
			return Typed{}, reject(&Rejection{Reason: err.Error()})
		}
		if rej := checkConstraints(schema, cmd.Data); rej != nil {
			return Typed{}, reject(rej)
		}
	} else {
		payload, err = DecodeLenient(cmd.Category, cmd.Data)
		if err != nil {
			return Typed{}, reject(&Rejection{Reason: err.Error()})
		}
	}

	return Typed{
		Action:     cmd.Action,
		Category:   cmd.Category,
		Payload:    payload,
		Confidence: cmd.Confidence,
	}, nil
}

func reject(r *Rejection) error {
	return apperr.Wrap(apperr.KindValidation, "validate", r)
}

// checkConstraints applies the enum, range and any-of rules. Types were
// already checked by Decode.
func checkConstraints(s Schema, data map[string]any) *Rejection {
	for _, field := range sortedKeys(s.Enums) {
		v, ok := present(data, field)
		if !ok {
			continue
		}
		str, _ := v.(string)
		if !slices.Contains(s.Enums[field], str) {
			return &Rejection{Reason: "value not allowed", Field: field, Value: v}
		}
	}

	for _, field := range sortedKeys(s.Ranges) {
		v, ok := present(data, field)
		if !ok {
			continue
		}
		f, _ := toFloat(v)
		if !s.Ranges[field].contains(f) {
			return &Rejection{Reason: "value out of range", Field: field, Value: v}
		}
	}

	if len(s.AnyOf) > 0 {
		found := false
		for _, field := range s.AnyOf {
			if v, ok := present(data, field); ok {
				if _, isNum := toFloat(v); isNum {
					found = true
					break
				}
			}
		}
		if !found {
			return &Rejection{Reason: "at least one numeric field required", Missing: s.AnyOf}
		}
	}
	return nil
}

func missingFields(required []string, data map[string]any) []string {
	var missing []string
	for _, field := range required {
		if _, ok := present(data, field); !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// present treats null and blank strings as absent.
func present(data map[string]any, key string) (any, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func withoutKeys(data map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if !slices.Contains(keys, k) {
			out[k] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
