package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"action":"payment.succeeded","id":"evt_1"}`)
	secret := "whsec_test_secret"
	valid := signPayload(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", payload, valid, secret, true},
		{"valid with sha256 prefix", payload, "sha256=" + valid, secret, true},
		{"valid with surrounding whitespace", payload, "  " + valid + "  ", secret, true},
		{"uppercase prefix is not stripped", payload, "SHA256=" + valid, secret, false},
		{"wrong secret", payload, signPayload(payload, "other_secret"), secret, false},
		{"tampered payload", []byte(`{"action":"payment.succeeded","id":"evt_2"}`), valid, secret, false},
		{"not hex", payload, "definitely-not-hex", secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, valid, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyWebhookSignature(tt.payload, tt.signature, tt.secret)
			assert.Equal(t, tt.want, got)
		})
	}
}
