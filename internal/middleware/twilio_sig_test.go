package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func signature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioAuth(t *testing.T) {
	const token = "secret"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}}

	tests := []struct {
		name    string
		token   string
		baseURL string
		path    string
		sign    func(r *http.Request)
		want    int
	}{
		{
			name: "valid signature with base url", token: token, baseURL: "https://ispy.example/", path: "/twilio/voice",
			sign: func(r *http.Request) {
				r.Header.Set("X-Twilio-Signature", signature(token, "https://ispy.example/twilio/voice", form))
			},
			want: http.StatusOK,
		},
		{
			name: "valid signature from host", token: token, path: "/twilio/voice",
			sign: func(r *http.Request) {
				r.Header.Set("X-Twilio-Signature", signature(token, "https://example.com/twilio/voice", form))
			},
			want: http.StatusOK,
		},
		{
			name: "forged", token: token, path: "/twilio/voice",
			sign: func(r *http.Request) { r.Header.Set("X-Twilio-Signature", "bm9wZQ==") },
			want: http.StatusUnauthorized,
		},
		{name: "token not configured", path: "/twilio/voice", sign: func(*http.Request) {}, want: http.StatusInternalServerError},
		{name: "other prefix is not checked", token: token, path: "/other", sign: func(*http.Request) {}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(TwilioAuth("/twilio/", tt.token, tt.baseURL, zerolog.Nop()))
			var got map[string]string
			e.POST(tt.path, func(c echo.Context) error {
				got, _ = TwilioParams(c)
				return c.NoContent(http.StatusOK)
			})
			r := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(form.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			tt.sign(r)
			w := httptest.NewRecorder()
			e.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Fatalf("code=%d want %d body=%s", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && strings.HasPrefix(tt.path, "/twilio/") && got["CallSid"] != "CA1" {
				t.Fatalf("params=%v", got)
			}
		})
	}
}
