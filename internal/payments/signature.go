package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned when a webhook body does not carry a
// valid signature for the configured secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// StripeTolerance bounds the age of a signed Stripe timestamp.
const StripeTolerance = 5 * time.Minute

func sign(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// MercadoPagoTolerance bounds the age of a signed MercadoPago timestamp.
const MercadoPagoTolerance = 5 * time.Minute

// mercadoPagoManifest is the string MercadoPago signs. Alphanumeric ids are
// signed lowercased.
func mercadoPagoManifest(dataID, requestID, ts string) []byte {
	return []byte("id:" + strings.ToLower(dataID) + ";request-id:" + requestID + ";ts:" + ts + ";")
}

// parseSignatureHeader splits a "k=v,k=v" header into its ts and v1 values.
func parseSignatureHeader(header string) (ts string, sigs [][]byte) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "t", "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			if sig, err := hex.DecodeString(strings.TrimSpace(v)); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	return ts, sigs
}

// signedAt reads a unix timestamp in seconds or milliseconds.
func signedAt(ts string) (time.Time, bool) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}

func withinTolerance(at, now time.Time, tolerance time.Duration) bool {
	age := now.Sub(at)
	return age <= tolerance && age >= -tolerance
}

// VerifyMercadoPago checks an "x-signature: ts=<ts>,v1=<hex>" header, where
// v1 signs "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func VerifyMercadoPago(secret, header, requestID, dataID string, now time.Time) error {
	if secret == "" || header == "" || requestID == "" {
		return ErrInvalidSignature
	}
	ts, sigs := parseSignatureHeader(header)
	at, ok := signedAt(ts)
	if !ok || len(sigs) == 0 || !withinTolerance(at, now, MercadoPagoTolerance) {
		return ErrInvalidSignature
	}
	want := sign(secret, mercadoPagoManifest(dataID, requestID, ts))
	for _, sig := range sigs {
		if hmac.Equal(sig, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// VerifyStripe checks a "t=<unix>,v1=<hex>" header where v1 signs
// "<t>.<body>". Any of several v1 values may match during secret rotation.
func VerifyStripe(secret, header string, body []byte, now time.Time) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	ts, sigs := parseSignatureHeader(header)
	at, ok := signedAt(ts)
	if !ok || len(sigs) == 0 || !withinTolerance(at, now, StripeTolerance) {
		return ErrInvalidSignature
	}
	want := sign(secret, []byte(ts), []byte("."), body)
	for _, sig := range sigs {
		if hmac.Equal(sig, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignStripe builds a header VerifyStripe accepts. Used by tests and local tooling.
func SignStripe(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(sign(secret, []byte(ts), []byte("."), body))
}

// SignMercadoPago builds an x-signature header VerifyMercadoPago accepts.
func SignMercadoPago(secret, dataID, requestID string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "ts=" + ts + ",v1=" + hex.EncodeToString(sign(secret, mercadoPagoManifest(dataID, requestID, ts)))
}
