package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// no 0/O or 1/I so references survive being read over the phone
const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const referenceLength = 8

func NewReference() (string, error) {
	buf := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return "BK" + string(buf), nil
}
