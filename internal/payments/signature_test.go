package payments

import (
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifyMercadoPago_MillisecondTimestamp(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	header := "ts=" + ts + ",v1=" + hex.EncodeToString(sign("s3cret", mercadoPagoManifest("987", "req-1", ts)))

	assert.NoError(t, VerifyMercadoPago("s3cret", header, "req-1", "987", now))
	assert.ErrorIs(t, VerifyMercadoPago("s3cret", header, "req-1", "987", now.Add(time.Hour)), ErrInvalidSignature)
}

func TestMercadoPagoManifest(t *testing.T) {
	assert.Equal(t, "id:abc;request-id:R-1;ts:1704908010;", string(mercadoPagoManifest("ABC", "R-1", "1704908010")))
}
