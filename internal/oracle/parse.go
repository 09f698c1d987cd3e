package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/dashbot/internal/apperr"
	"github.com/kalambet/dashbot/internal/command"
)

// StripFences returns the contents of the first ```json block, or failing
// that the first ``` block, or s itself when it is not fenced.
func StripFences(s string) string {
	if _, after, ok := strings.Cut(s, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	if _, after, ok := strings.Cut(s, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(s)
}

// response mirrors the oracle's wire format. Pointers tell absent from zero.
type response struct {
	Action                *string        `json:"action"`
	Category              *string        `json:"category"`
	Data                  map[string]any `json:"data"`
	Confidence            *float64       `json:"confidence"`
	NeedsClarification    bool           `json:"needs_clarification"`
	ClarificationQuestion *string        `json:"clarification_question"`
}

// Parse decodes a raw oracle reply into a Command. Text that is not JSON is a
// parse failure; JSON that does not have the expected shape is an
// extraction failure.
func Parse(raw string) (command.Command, error) {
	body := StripFences(raw)
	if !json.Valid([]byte(body)) {
		return command.Command{}, apperr.Wrap(apperr.KindParse, "oracle.parse",
			fmt.Errorf("reply is not valid JSON: %.200q", body))
	}

	var r response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return command.Command{}, apperr.Wrap(apperr.KindExtraction, "oracle.parse", fmt.Errorf("unexpected reply shape: %w", err))
	}

	cmd := command.Command{
		Data:               r.Data,
		NeedsClarification: r.NeedsClarification,
	}
	if r.ClarificationQuestion != nil {
		cmd.ClarificationQuestion = strings.TrimSpace(*r.ClarificationQuestion)
	}
	if r.Action != nil {
		cmd.Action = command.Action(strings.ToLower(strings.TrimSpace(*r.Action)))
	}
	if r.Category != nil {
		cmd.Category = command.Category(strings.ToLower(strings.TrimSpace(*r.Category)))
	}
	// A reply without a confidence makes no claim of doubt.
	cmd.Confidence = 1
	if r.Confidence != nil {
		cmd.Confidence = *r.Confidence
	}
	if cmd.Data == nil {
		cmd.Data = map[string]any{}
	}

	if cmd.NeedsClarification {
		return cmd, nil
	}
	if r.Action == nil || r.Category == nil {
		return command.Command{}, apperr.Wrap(apperr.KindExtraction, "oracle.parse",
			errors.New("reply is missing action or category"))
	}
	if cmd.Confidence < 0 || cmd.Confidence > 1 {
		return command.Command{}, apperr.Wrap(apperr.KindExtraction, "oracle.parse",
			fmt.Errorf("confidence %v outside [0,1]", cmd.Confidence))
	}
	return cmd, nil
}
