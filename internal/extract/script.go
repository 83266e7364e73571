package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/instafix/internal/upstream"
)

// ScriptKey is the substring that identifies the serialized media payload.
const ScriptKey = "shortcode_media"

// TokenizedScript lexes inline scripts and decodes the JSON string literal
// that carries the media payload.
type TokenizedScript struct{}

// Name implements Strategy.
func (TokenizedScript) Name() string { return "tokenized_script" }

// Extract implements Strategy.
func (TokenizedScript) Extract(_ context.Context, postID string, artifact Artifact) Result {
	var literal string
	ok := false
	for _, line := range bytes.Split(artifact.Body, []byte("\n")) {
		if !bytes.Contains(line, []byte(ScriptKey)) {
			continue
		}
		if literal, ok = FindStringToken(scriptSource(line), ScriptKey); ok {
			break
		}
	}
	if !ok {
		return fail(upstream.ErrNotApplicable)
	}
	if !gjson.Valid(literal) {
		return fail(fmt.Errorf("%w: script payload is not JSON", upstream.ErrInvalidShape))
	}

	root := gjson.Parse(literal)
	data := firstPresent(root, "gql_data", "graphql")
	if !data.Exists() {
		data = root
	}
	p, blocked, err := mapGQL(postID, data)
	if err != nil {
		return fail(err)
	}
	return found(p, blocked)
}

// FindStringToken lexes src as JavaScript and returns the decoded value of the
// first string literal that contains key and holds a JSON document.
func FindStringToken(src []byte, key string) (string, bool) {
	lexer := js.NewLexer(parse.NewInputBytes(src))
	for {
		tt, text := lexer.Next()
		if tt == js.ErrorToken {
			return "", false
		}
		if tt != js.StringToken || !bytes.Contains(text, []byte(key)) {
			continue
		}
		value, err := unquoteJS(string(text))
		if err != nil {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return value, true
		}
	}
}

// scriptSource drops the opening script tag so the lexer sees only code.
func scriptSource(line []byte) []byte {
	open := bytes.Index(line, []byte("<script"))
	if open < 0 {
		return line
	}
	end := bytes.IndexByte(line[open:], '>')
	if end < 0 {
		return line
	}
	return line[open+end+1:]
}

var errBadEscape = errors.New("bad escape sequence")

// unquoteJS decodes a single- or double-quoted JavaScript string literal.
func unquoteJS(lit string) (string, error) {
	if len(lit) < 2 {
		return "", errBadEscape
	}
	quote := lit[0]
	if (quote != '"' && quote != '\'') || lit[len(lit)-1] != quote {
		return "", errBadEscape
	}
	s := lit[1 : len(lit)-1]
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", errBadEscape
		}
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case '\n':
			// line continuation
		case 'x':
			if i+3 > len(s) {
				return "", errBadEscape
			}
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", errBadEscape
			}
			sb.WriteRune(rune(n))
			i += 2
		case 'u':
			r, width, err := decodeUnicodeEscape(s, i)
			if err != nil {
				return "", err
			}
			sb.WriteRune(r)
			i += width
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String(), nil
}

// decodeUnicodeEscape reads the hex digits after s[i] == 'u', joining
// surrogate pairs. It returns the rune and how many bytes past i it consumed.
func decodeUnicodeEscape(s string, i int) (rune, int, error) {
	if i+5 > len(s) {
		return 0, 0, errBadEscape
	}
	n, err := strconv.ParseUint(s[i+1:i+5], 16, 16)
	if err != nil {
		return 0, 0, errBadEscape
	}
	r := rune(n)
	if !utf16.IsSurrogate(r) {
		return r, 4, nil
	}
	if i+11 <= len(s) && s[i+5] == '\\' && s[i+6] == 'u' {
		m, err := strconv.ParseUint(s[i+7:i+11], 16, 16)
		if err == nil {
			if pair := utf16.DecodeRune(r, rune(m)); pair != utf8.RuneError {
				return pair, 10, nil
			}
		}
	}
	return utf8.RuneError, 4, nil
}
