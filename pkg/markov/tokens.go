package markov

import "strings"

const (
	// StartToken marks the beginning of every tokenized message.
	StartToken = "/"
	// EndToken marks the end of every tokenized message.
	EndToken = "\\"
)

var (
	escaper   = strings.NewReplacer("/", "//", "\\", "\\\\")
	unescaper = strings.NewReplacer("//", "/", "\\\\", "\\")
)

// Identity names a single model: one member inside one group.
type Identity struct {
	MemberID string `json:"member_id"`
	GroupID  string `json:"group_id"`
}

// String renders the identity as "member/group".
func (id Identity) String() string {
	return id.MemberID + "/" + id.GroupID
}

// Tokenize converts a raw message into a token sequence wrapped in StartToken
// and EndToken. Invalid UTF-8 is replaced with U+FFFD so every token survives
// the JSON codec unchanged. Literal '/' and '\' characters are doubled, so no
// content token can ever equal one of the markers. Blank input yields nil.
func Tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToValidUTF8(text, "\uFFFD"))
	if text == "" {
		return nil
	}
	words := strings.Fields(escaper.Replace(text))
	tokens := make([]string, 0, len(words)+2)
	tokens = append(tokens, StartToken)
	tokens = append(tokens, words...)
	return append(tokens, EndToken)
}

// Detokenize is the inverse of Tokenize. The markers are dropped when present,
// the remaining tokens are joined with single spaces and escapes collapsed.
func Detokenize(tokens []string) string {
	if len(tokens) > 0 && tokens[0] == StartToken {
		tokens = tokens[1:]
	}
	if len(tokens) > 0 && tokens[len(tokens)-1] == EndToken {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return ""
	}
	return unescaper.Replace(strings.Join(tokens, " "))
}
