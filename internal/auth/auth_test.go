package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "12345:test-bot-token"

// buildInitData produces init data signed the way Telegram signs it.
func buildInitData(t *testing.T, botToken string, authDate time.Time) string {
	t.Helper()

	values := url.Values{}
	values.Set("user", `{"id":555,"first_name":"Ivan"}`)
	values.Set("auth_date", fmt.Sprintf("%d", authDate.Unix()))
	values.Set("query_id", "AAF-test")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func TestValidateInitData(t *testing.T) {
	initData := buildInitData(t, testBotToken, time.Now())

	tgID, err := ValidateInitData(initData, testBotToken)
	require.NoError(t, err)
	assert.Equal(t, int64(555), tgID)
}

func TestValidateInitDataWrongToken(t *testing.T) {
	initData := buildInitData(t, testBotToken, time.Now())

	_, err := ValidateInitData(initData, "other:token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestValidateInitDataTampered(t *testing.T) {
	initData := buildInitData(t, testBotToken, time.Now())
	tampered := strings.Replace(initData, "555", "666", 1)

	_, err := ValidateInitData(tampered, testBotToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestValidateInitDataExpired(t *testing.T) {
	initData := buildInitData(t, testBotToken, time.Now().Add(-25*time.Hour))

	_, err := ValidateInitData(initData, testBotToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestValidateInitDataMissingHash(t *testing.T) {
	_, err := ValidateInitData("user=%7B%22id%22%3A555%7D", testBotToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestParseInitDataUser(t *testing.T) {
	values := url.Values{}
	values.Set("user", `{"id":777}`)

	tgID, err := ParseInitDataUser(values.Encode())
	require.NoError(t, err)
	assert.Equal(t, int64(777), tgID)

	_, err = ParseInitDataUser("auth_date=1")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), models.ErrUnauthorized)
}
