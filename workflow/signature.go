package workflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedSignature = errors.New("malformed signature header")

// ParseSignatureHeader splits an "x-signature" value of the form "ts=<unix>,v1=<hex>".
func ParseSignatureHeader(header string) (ts string, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			v1 = strings.TrimSpace(v)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", ErrMalformedSignature
	}
	return ts, v1, nil
}

func signatureManifest(paymentId, requestId, ts string) string {
	return fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(paymentId), requestId, ts)
}

// SignNotification returns the hex HMAC-SHA256 the provider sends as v1.
func SignNotification(secret, paymentId, requestId, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(paymentId, requestId, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyNotificationSignature checks n against the tenant's webhook secret.
func VerifyNotificationSignature(n PaymentNotification, secret string) error {
	ts, v1, err := ParseSignatureHeader(n.Signature)
	if err != nil {
		return newSettlementError(KindSignature, err)
	}
	want := SignNotification(secret, n.PaymentId, n.RequestId, ts)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(v1))) {
		return newSettlementError(KindSignature, fmt.Errorf("signature mismatch for payment %s", n.PaymentId))
	}
	return nil
}
