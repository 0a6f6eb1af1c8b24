// Package mention parses @tokens out of free text and resolves them
// against a workspace roster. Resolution is best-effort: an @token that
// matches nobody is plain text, never an error.
package mention

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"arunika/internal/common"
)

var tokenPattern = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)

// Query is the partial @token under the caret during composition.
type Query struct {
	// Text is the token body typed so far, without the @.
	Text string
	// Start is the byte offset of the @ in the input.
	Start int
}

// ActiveQuery locates the nearest unterminated @token preceding the
// cursor. Whitespace between the @ and the cursor terminates the token,
// so "hi @al|" is active and "hi @al |" is not.
func ActiveQuery(text string, cursor int) (Query, bool) {
	if cursor < 0 || cursor > len(text) {
		return Query{}, false
	}
	// walk back rune by rune; indexing bytes here would misread UTF-8
	// continuation bytes as space codepoints
	for i := cursor; i > 0; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		i -= size
		if r == '@' {
			return Query{Text: text[i+1 : cursor], Start: i}, true
		}
		if unicode.IsSpace(r) {
			return Query{}, false
		}
	}
	return Query{}, false
}

// Candidates filters the roster by the partial query. Matching is a
// case-insensitive substring test against username, display name, or
// the local part of the email; results keep roster order rather than
// being relevance-ranked.
func Candidates(query string, roster []common.Member) []common.Member {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]common.Member(nil), roster...)
	}

	var matches []common.Member
	for _, m := range roster {
		if strings.Contains(strings.ToLower(m.Username), q) ||
			strings.Contains(strings.ToLower(m.DisplayName), q) ||
			strings.Contains(strings.ToLower(emailLocalPart(m.Email)), q) {
			matches = append(matches, m)
		}
	}
	return matches
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

// NormalizeUsername strips whitespace and lower-cases, producing the
// token form inserted into message text.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.Join(strings.Fields(username), ""))
}

// Insert replaces the partial token [start, cursor) with the member's
// normalized @username plus a trailing space, returning the new text
// and the cursor position after the inserted mention.
func Insert(member common.Member, text string, start, cursor int) (string, int) {
	if start < 0 || cursor < start || cursor > len(text) {
		return text, cursor
	}
	token := "@" + NormalizeUsername(member.Username) + " "
	newText := text[:start] + token + text[cursor:]
	return newText, start + len(token)
}

// ExtractUserIDs re-scans the final text for every @token and resolves
// each independently against the roster by username or first name,
// case-insensitive. Unresolved tokens are ignored and the result holds
// each user id once, in first-occurrence order.
func ExtractUserIDs(text string, roster []common.Member) []string {
	tokens := tokenPattern.FindAllStringSubmatch(text, -1)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, tok := range tokens {
		member, ok := resolveToken(tok[1], roster)
		if !ok {
			continue
		}
		if _, dup := seen[member.UserID]; dup {
			continue
		}
		seen[member.UserID] = struct{}{}
		ids = append(ids, member.UserID)
	}
	return ids
}

func resolveToken(token string, roster []common.Member) (common.Member, bool) {
	t := strings.ToLower(token)
	for _, m := range roster {
		if strings.EqualFold(m.Username, t) {
			return m, true
		}
		if first := firstName(m.DisplayName); first != "" && strings.EqualFold(first, t) {
			return m, true
		}
	}
	return common.Member{}, false
}

func firstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
