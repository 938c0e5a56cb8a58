package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mindia/internal/apperror"
)

const (
	csrfCookieName = "csrf_token"
	csrfTokenTTL   = time.Hour
)

// CSRFTokenResponse is the body GET /csrf-token returns.
type CSRFTokenResponse struct {
	Token string `json:"token"`
}

// MountCSRF registers the endpoint clients call to obtain a CSRF token
// before issuing a state-changing request, mirroring the original system's
// GET /api/v0/csrf-token.
func MountCSRF(r chi.Router, secret string) {
	r.Get("/csrf-token", handleCSRFToken(secret))
}

func handleCSRFToken(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := generateCSRFToken(secret)
		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(csrfTokenTTL.Seconds()),
			SameSite: http.SameSiteStrictMode,
			Secure:   !isInsecureRequest(r),
		})
		Respond(w, http.StatusOK, CSRFTokenResponse{Token: token})
	}
}

func isInsecureRequest(r *http.Request) bool {
	return r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// generateCSRFToken builds a <hmac>.<timestamp>.<nonce> token, grounded on
// the original system's csrf_middleware: the HMAC binds the timestamp and
// nonce together so a token can't be replayed past its TTL or forged
// without secret.
func generateCSRFToken(secret string) string {
	timestamp := time.Now().Unix()
	nonce := uuid.NewString()
	return fmt.Sprintf("%s.%d.%s", signCSRFMessage(secret, timestamp, nonce), timestamp, nonce)
}

func signCSRFMessage(secret string, timestamp int64, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyCSRFToken checks the token's shape, signature, and expiry.
func verifyCSRFToken(token, secret string) bool {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return false
	}
	sig, timestampStr, nonce := parts[0], parts[1], parts[2]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > timestamp+int64(csrfTokenTTL.Seconds()) {
		return false
	}

	expected := signCSRFMessage(secret, timestamp, nonce)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// CSRF enforces the double-submit-cookie pattern on state-changing
// requests: the caller must echo the csrf_token cookie's value in the
// X-CSRF-Token header, and the token itself must carry a valid signature
// and be unexpired. GET/HEAD/OPTIONS are exempt, matching the original
// csrf_middleware's safe-method allowance. An empty secret disables the
// check, since that means CSRF_SECRET was never configured.
func CSRF(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("X-CSRF-Token")
			cookie, err := r.Cookie(csrfCookieName)
			if header == "" || err != nil || !hmac.Equal([]byte(cookie.Value), []byte(header)) {
				RespondError(w, apperror.Forbidden("missing or mismatched CSRF token"), false)
				return
			}
			if !verifyCSRFToken(header, secret) {
				RespondError(w, apperror.Forbidden("invalid or expired CSRF token"), false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
