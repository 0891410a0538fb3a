package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// 签名规则（OKX v5）：
//   prehash = timestamp + METHOD + requestPath(+query) + body
//   sign    = base64(HMAC-SHA256(secret, prehash))
// timestamp 为 UTC ISO-8601 毫秒精度，以 Z 结尾。

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func signRequest(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
