package totp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B key "12345678901234567890" in both encodings.
const (
	rfcSecretBase32 = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	rfcSecretBase64 = "MTIzNDU2Nzg5MDEyMzQ1Njc4OTA="
)

func TestGenerateCode_RFCVectors(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, tt := range tests {
		for _, secret := range []string{rfcSecretBase32, rfcSecretBase64} {
			got, err := GenerateCode(secret, time.Unix(tt.unix, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "unix=%d secret=%s", tt.unix, secret)
		}
	}
}

func TestGenerateCode_SameWindowSameCode(t *testing.T) {
	start := time.Unix(1700000010, 0) // window starts at ...000
	first, err := GenerateCode(rfcSecretBase64, start)
	require.NoError(t, err)
	assert.Len(t, first, 6)

	for offset := time.Duration(0); offset < 20*time.Second; offset += time.Second {
		got, err := GenerateCode(rfcSecretBase64, start.Add(offset))
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}

	next, err := GenerateCode(rfcSecretBase64, start.Add(Period))
	require.NoError(t, err)
	assert.NotEqual(t, first, next)
}

func TestGenerateCode_InvalidSecret(t *testing.T) {
	for _, secret := range []string{"", "   ", "not*base64!", "QUJD"} {
		_, err := GenerateCode(secret, time.Now())
		assert.True(t, errors.Is(err, ErrInvalidSecret), "secret %q: %v", secret, err)
	}
}

func TestDecodeSecret_PaddedBase32(t *testing.T) {
	want := []byte("1234567890123456")
	for _, secret := range []string{
		"GEZDGNBVGY3TQOJQGEZDGNBVGY======",
		"GEZDGNBVGY3TQOJQGEZDGNBVGY",
		"MTIzNDU2Nzg5MDEyMzQ1Ng==",
	} {
		key, err := DecodeSecret(secret)
		require.NoError(t, err, secret)
		assert.Equal(t, want, key, secret)
	}

	at := time.Unix(1234567890, 0)
	padded, err := GenerateCode("GEZDGNBVGY3TQOJQGEZDGNBVGY======", at)
	require.NoError(t, err)
	unpadded, err := GenerateCode("GEZDGNBVGY3TQOJQGEZDGNBVGY", at)
	require.NoError(t, err)
	assert.Equal(t, unpadded, padded)

	_, err = DecodeSecret("====")
	assert.True(t, errors.Is(err, ErrInvalidSecret))
}

func TestGenerateSteamCode(t *testing.T) {
	now := time.Unix(1700000010, 0)
	code, err := GenerateSteamCode(rfcSecretBase64, now)
	require.NoError(t, err)
	require.Len(t, code, 5)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(steamAlphabet, r), "unexpected rune %q", r)
	}

	again, err := GenerateSteamCode(rfcSecretBase64, now.Add(15*time.Second))
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestGenerator_Format(t *testing.T) {
	now := time.Unix(59, 0)

	digits, err := Generator{Format: FormatDigits}.Code(rfcSecretBase32, now)
	require.NoError(t, err)
	assert.Equal(t, "287082", digits)

	steam, err := Generator{Format: FormatSteam}.Code(rfcSecretBase32, now)
	require.NoError(t, err)
	assert.Len(t, steam, 5)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatSteam, f)

	f, err = ParseFormat(" Digits ")
	require.NoError(t, err)
	assert.Equal(t, FormatDigits, f)

	_, err = ParseFormat("hex")
	assert.Error(t, err)
}

func TestTimeRemaining(t *testing.T) {
	assert.Equal(t, 30*time.Second, TimeRemaining(time.Unix(60, 0)))
	assert.Equal(t, time.Second, TimeRemaining(time.Unix(59, 0)))
}
