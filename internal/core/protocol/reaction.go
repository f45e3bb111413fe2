package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxReactionLength = 32

// EncodeReaction returns the bare string payload used on the reaction topic.
func EncodeReaction(reaction string) []byte {
	return []byte(reaction)
}

func DecodeReaction(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: reaction is not utf-8", ErrMalformed)
	}
	r := strings.TrimSpace(string(payload))
	if r == "" || utf8.RuneCountInString(r) > maxReactionLength {
		return "", fmt.Errorf("%w: reaction %q", ErrMalformed, r)
	}
	return r, nil
}
