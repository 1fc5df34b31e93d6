// Package trigger decides whether a chat message addresses the assistant.
//
// Matchers run in a fixed order and the first hit wins:
//
//	command  "!help"                       whole trimmed body
//	mention  "@ai" "@assistant" "@bot" "@<alias>"
//	address  "hey ai" "hey <alias>" "ai help"
//	colon    "ai:" "<alias>:"
package trigger

import (
	"regexp"
	"strings"
)

// Kind is the class of a detected trigger.
type Kind int

const (
	None Kind = iota
	Command
	Mention
	Address
	Colon
)

func (k Kind) String() string {
	switch k {
	case Command:
		return "command"
	case Mention:
		return "mention"
	case Address:
		return "address"
	case Colon:
		return "colon"
	default:
		return "none"
	}
}

// CommandHelp is the only bang command.
const CommandHelp = "!help"

// Match is the outcome of Detect.
type Match struct {
	Kind  Kind
	Token string
}

// InvokesAssistant reports whether the match needs an upstream completion.
func (m Match) InvokesAssistant() bool {
	return m.Kind == Mention || m.Kind == Address || m.Kind == Colon
}

type matcher struct {
	kind  Kind
	token string
	re    *regexp.Regexp
}

// Detector holds the compiled matchers for one assistant alias.
type Detector struct {
	matchers []matcher
}

// NewDetector builds a Detector for alias (e.g. "styx"). An empty alias only
// uses the built-in tokens.
func NewDetector(alias string) *Detector {
	alias = strings.ToLower(strings.TrimSpace(alias))

	mentions := uniq("@ai", "@assistant", "@bot", prefixed("@", alias))
	addresses := uniq("hey ai", prefixed("hey ", alias), "ai help")
	colons := uniq("ai:", suffixed(alias, ":"))

	d := &Detector{}
	for _, tok := range mentions {
		d.matchers = append(d.matchers, matcher{
			kind:  Mention,
			token: tok,
			re:    regexp.MustCompile(`(?i)(^|\s)` + regexp.QuoteMeta(tok) + `(\s|[,.!?;:]|$)`),
		})
	}
	for _, tok := range addresses {
		d.matchers = append(d.matchers, matcher{
			kind:  Address,
			token: tok,
			re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(tok) + `(\s|[,.!?;:]|$)`),
		})
	}
	for _, tok := range colons {
		d.matchers = append(d.matchers, matcher{
			kind:  Colon,
			token: tok,
			re:    regexp.MustCompile(`(?i)(^|[^\w@])` + regexp.QuoteMeta(tok) + `(\s|$)`),
		})
	}
	return d
}

// Detect classifies body.
func (d *Detector) Detect(body string) Match {
	trimmed := strings.TrimSpace(body)
	if strings.EqualFold(trimmed, CommandHelp) {
		return Match{Kind: Command, Token: CommandHelp}
	}
	for _, m := range d.matchers {
		if m.re.MatchString(trimmed) {
			return Match{Kind: m.kind, Token: m.token}
		}
	}
	return Match{Kind: None}
}

func prefixed(prefix, alias string) string {
	if alias == "" {
		return ""
	}
	return prefix + alias
}

func suffixed(alias, suffix string) string {
	if alias == "" {
		return ""
	}
	return alias + suffix
}

func uniq(tokens ...string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
