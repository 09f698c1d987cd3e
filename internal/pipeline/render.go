package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/dashbot/internal/command"
)

// User-facing texts. Internal causes never appear in replies.
const (
	RephraseText          = "Sorry, I couldn't parse that. Could you rephrase?"
	DefaultQuestion       = "Could you provide more details?"
	PersistenceFailedText = "❌ Error saving data. Please try again."
	LowConfidenceNote     = "(I wasn't completely sure about this one. Please double-check it.)"
)

// WelcomeText is the greeting for a new conversation.
const WelcomeText = "👋 Welcome to your Personal Dashboard Bot!\n\n" +
	"Just send me messages like:\n" +
	"• 'Spent $50 on groceries'\n" +
	"• 'Coffee with Alex, status texting'\n" +
	"• 'Remind me to call mom tomorrow at 6pm'\n" +
	"• 'Slept 7/10'\n\n" +
	"Say 'delete the groceries expense' to remove something.\n" +
	"I'll parse them and add to your dashboard!"

var emoji = map[command.Category]string{
	command.Finance:  "💰",
	command.Dating:   "💕",
	command.Todos:    "✅",
	command.NetWorth: "📈",
	command.Habits:   "🔁",
	command.Sleep:    "😴",
}

// Emoji returns the icon for category, or 📝 when it has none.
func Emoji(category command.Category) string {
	if e, ok := emoji[category]; ok {
		return e
	}
	return "📝"
}

// Render maps an outcome to the reply text.
func Render(o Outcome) string {
	switch o.Kind {
	case AskClarification:
		q := strings.TrimSpace(o.Question)
		if q == "" {
			q = DefaultQuestion
		}
		return "🤔 " + q
	case Rephrase:
		return "🤔 " + RephraseText
	case PersistenceFailed:
		return PersistenceFailedText
	case NothingMatched:
		return fmt.Sprintf("🔍 Couldn't find a matching %s entry, so nothing was removed.", o.Category)
	case Logged:
		text := fmt.Sprintf("%s Logged to %s:\n%s", Emoji(o.Category), o.Category, summary(o))
		if o.LowConfidence {
			text += "\n" + LowConfidenceNote
		}
		return text
	case Removed:
		return fmt.Sprintf("🗑️ Removed from %s:\n%s", o.Category, summary(o))
	case Welcome:
		return WelcomeText
	}
	return "🤔 " + RephraseText
}

// summary is the one-line human description of the outcome's entry.
func summary(o Outcome) string {
	if o.Entry == nil {
		return ""
	}
	p, err := command.DecodeLenient(o.Category, o.Entry.Data)
	if err != nil {
		return rawData(o.Entry.Data)
	}

	switch v := p.(type) {
	case command.FinancePayload:
		return money(v.Amount, v.Currency) + " - " + v.Description
	case command.DatingPayload:
		activity := v.Activity
		if activity == "" {
			activity = "date"
		}
		s := capitalize(activity) + " with " + v.Person
		if v.Status != "" {
			s += " (" + v.Status + ")"
		}
		return s
	case command.TodoPayload:
		s := v.Task
		if v.Priority != "" {
			s += " [" + v.Priority + "]"
		}
		if v.Due != "" {
			s += "\nDue: " + v.Due
		}
		if v.ReminderTime != nil {
			s += "\n⏰ " + v.ReminderTime.Format("Mon Jan 2 15:04 -07:00")
		}
		return s
	case command.HabitPayload:
		return joinNonEmpty(capitalize(v.Habit), v.Date)
	case command.SleepPayload:
		return joinNonEmpty("Score "+number(v.Score)+"/10", v.Date)
	case command.NetWorthPayload:
		var parts []string
		if v.Savings != nil {
			parts = append(parts, "Savings "+number(v.Savings))
		}
		if v.Trading != nil {
			parts = append(parts, "Trading "+number(v.Trading))
		}
		return joinNonEmpty(strings.Join(parts, ", "), v.Date)
	}
	return rawData(o.Entry.Data)
}

// RenderStats formats a stats summary.
func RenderStats(st Stats) string {
	var sb strings.Builder
	sb.WriteString("📊 Your Stats:\n")
	for _, c := range st.Categories {
		if c.Total == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s %s: %d %s (%d this month)", Emoji(c.Category), label(c.Category), c.Total, plural(c.Total, "entry", "entries"), c.ThisMonth)
	}
	if st.Total == 0 {
		sb.WriteString("\nNothing logged yet.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n\nTotal: %d (%d this month)", st.Total, st.ThisMonth)
	return sb.String()
}

func money(amount *float64, currency string) string {
	n := number(amount)
	switch strings.ToUpper(currency) {
	case "", "USD":
		return "$" + n
	default:
		return n + " " + strings.ToUpper(currency)
	}
}

func number(f *float64) string {
	if f == nil {
		return "?"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func label(c command.Category) string {
	return capitalize(strings.ReplaceAll(string(c), "_", " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func joinNonEmpty(main, date string) string {
	if date == "" {
		return main
	}
	return main + " (" + date + ")"
}

func rawData(data map[string]any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(b)
}
