package rewards

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// CodeGenerator produces candidate codes. Uniqueness is checked by the
// caller against the store.
type CodeGenerator interface {
	// VoucherCode returns a code of the form LOYAL-XXXX-XXXX.
	VoucherCode() (string, error)
	// DisplayID returns a 6-character alphanumeric customer id.
	DisplayID() (string, error)
}

// RandomCodes draws codes from crypto/rand.
type RandomCodes struct{}

func (RandomCodes) VoucherCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(b))
	return fmt.Sprintf("LOYAL-%s-%s", h[:4], h[4:]), nil
}

const displayAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func (RandomCodes) DisplayID() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(displayAlphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		sb.WriteByte(displayAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
