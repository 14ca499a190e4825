package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"

	apperrors "github.com/tably/grouporder-server/internal/errors"
)

// Alphabet excludes ambiguous characters (O, I, 0, 1) so codes survive being
// read aloud across a table.
const joinCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const joinCodeMaxAttempts = 10

// GenerateJoinCode produces a short shareable code in XXXX-XXXX form. inUse
// reports whether a candidate is already held by a non-terminal session; the
// generator retries collisions internally and only surfaces CODE_COLLISION
// when the space looks exhausted, which callers treat as an internal error.
func GenerateJoinCode(inUse func(string) bool) (string, error) {
	for attempts := 0; attempts < joinCodeMaxAttempts; attempts++ {
		code := randomJoinCode()
		if inUse == nil || !inUse(code) {
			return code, nil
		}
	}
	return "", apperrors.CodeCollision()
}

func randomJoinCode() string {
	chars := []byte(joinCodeChars)
	part1 := make([]byte, 4)
	part2 := make([]byte, 4)

	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part1[i] = chars[n.Int64()]
	}
	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part2[i] = chars[n.Int64()]
	}

	return fmt.Sprintf("%s-%s", string(part1), string(part2))
}
