// Package webhook authenticates inbound provider webhooks before they reach
// a handler.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"salesops_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// TokenHeader carries the shared webhook token.
	TokenHeader = "X-Webhook-Token"
	// SignatureParam carries hex(HMAC-SHA1(token, body)).
	SignatureParam = "signature"
	// RawBodyKey is the gin context key holding the verified request body.
	RawBodyKey = "webhookRawBody"

	maxBodyBytes = 1 << 20
)

// PurchaseAuthMiddleware accepts a request when it carries the shared token
// in TokenHeader, or a valid signature of its body in the query string. The
// body is buffered, restored for the handler and stored under RawBodyKey.
// With no token configured every request is rejected.
func PurchaseAuthMiddleware(token string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(body) > maxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}

		if !authorized(token, c.GetHeader(TokenHeader), c.Query(SignatureParam), body) {
			log.Warn("webhook rejected", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook credentials"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(RawBodyKey, body)
		c.Next()
	}
}

// RawBody returns the body stored by PurchaseAuthMiddleware.
func RawBody(c *gin.Context) []byte {
	v, ok := c.Get(RawBodyKey)
	if !ok {
		return nil
	}
	body, _ := v.([]byte)
	return body
}

func authorized(token, headerToken, signature string, body []byte) bool {
	if headerToken != "" && subtle.ConstantTimeCompare([]byte(headerToken), []byte(token)) == 1 {
		return true
	}
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(Sign(token, body)))
}

// Sign returns the hex HMAC-SHA1 of body keyed by token.
func Sign(token string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
