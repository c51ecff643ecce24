package permission

import "strings"

// Rule matching is deliberately narrow: a rule is a normalized command
// prefix scoped to one tool. "ls" authorizes "ls" and "ls -la" but never
// "lsblk", and a rule stored for one tool is invisible to every other tool.

// NormalizeRule collapses whitespace so equivalent spellings compare equal.
func NormalizeRule(rule string) string {
	return strings.Join(strings.Fields(rule), " ")
}

// MatchesPrefix reports whether subject matches rule as a token-boundary
// prefix. Both sides are compared in normalized form.
func MatchesPrefix(rule, subject string) bool {
	rule = NormalizeRule(rule)
	subject = NormalizeRule(subject)
	if rule == "" || subject == "" {
		return false
	}
	return subject == rule || strings.HasPrefix(subject, rule+" ")
}

// matchesAny reports whether subject matches at least one rule.
func matchesAny(rules []string, subject string) bool {
	for _, r := range rules {
		if MatchesPrefix(r, subject) {
			return true
		}
	}
	return false
}

// subjectsFor derives the strings rules are matched against for a request.
// Shell-like commands contribute one subject per parsed command; if the
// command cannot be parsed the raw line is the single subject, so a literal
// rule still applies but nothing looser does. Edit-style calls match on
// their paths.
func subjectsFor(req Request) []string {
	if req.Command != "" {
		commands, err := ParseCommands(req.Command)
		if err != nil || len(commands) == 0 {
			return []string{NormalizeRule(req.Command)}
		}
		subjects := make([]string, 0, len(commands))
		for _, c := range commands {
			subjects = append(subjects, c.String())
		}
		return subjects
	}
	if len(req.Paths) > 0 {
		return append([]string(nil), req.Paths...)
	}
	if req.RenderedInput != "" {
		return []string{NormalizeRule(req.RenderedInput)}
	}
	return nil
}

// DefaultRules proposes the rules an AllowAlways decision inserts when the
// responder does not supply one: command name plus first subcommand for
// shell calls, the touched paths for edit calls.
func DefaultRules(req Request) []string {
	if req.Command != "" {
		commands, err := ParseCommands(req.Command)
		if err != nil || len(commands) == 0 {
			return []string{NormalizeRule(req.Command)}
		}
		seen := make(map[string]bool)
		var rules []string
		for _, c := range commands {
			rule := c.Name
			if len(c.Args) > 0 && !strings.HasPrefix(c.Args[0], "-") {
				rule = c.Name + " " + c.Args[0]
			}
			if !seen[rule] {
				seen[rule] = true
				rules = append(rules, rule)
			}
		}
		return rules
	}
	if len(req.Paths) > 0 {
		return append([]string(nil), req.Paths...)
	}
	return nil
}
