package reconciler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

// Verifier проверяет подпись callback-ов провайдера: HMAC-SHA256 от сырого
// тела запроса, hex-кодировка.
type Verifier struct {
	secret []byte
}

// NewVerifier создаёт верификатор с общим с провайдером секретом.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign возвращает подпись для payload. Используется провайдером (и тестами).
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сверяет подпись с ожидаемой в constant time.
func (v *Verifier) Verify(payload []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return domain.ErrInvalidSignature
	}
	return nil
}
