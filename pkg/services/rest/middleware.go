package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"github.com/obytehq/walletsrv/pkg/werr"
	"go.uber.org/zap"
)

type ctxKey int

const (
	credsKey ctxKey = iota
	authKey
	bodyKey
)

const createLimiterWindow = time.Hour

// withCredentials reads the request body and assembles the authentication
// material for downstream middleware and handlers. The signed message is
// "method|url|body" with a lowercase method, the request URI including the
// query string and "{}" standing in for an empty body.
func (s *Service) withCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestBodyBytes))
		if err != nil {
			s.writeError(w, werr.New("INVALID_REQUEST", "Request body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		signed := body
		if len(signed) == 0 {
			signed = []byte("{}")
		}
		var msg bytes.Buffer
		msg.WriteString(strings.ToLower(r.Method))
		msg.WriteByte('|')
		msg.WriteString(r.URL.RequestURI())
		msg.WriteByte('|')
		msg.Write(signed)

		creds := coordinator.Credentials{
			CopayerID:     r.Header.Get("x-identity"),
			Message:       msg.Bytes(),
			Signature:     r.Header.Get("x-signature"),
			Session:       r.Header.Get("x-session"),
			WalletID:      r.Header.Get("x-wallet-id"),
			ClientVersion: r.Header.Get("x-client-version"),
		}
		ctx := context.WithValue(r.Context(), credsKey, creds)
		ctx = context.WithValue(ctx, bodyKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth resolves the request credentials into an authenticated wallet
// context or fails the request.
func (s *Service) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := r.Context().Value(credsKey).(coordinator.Credentials)
		auth, err := s.engine.Authenticate(creds)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), authKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers",
			"Content-Type, x-identity, x-signature, x-session, x-client-version, x-wallet-id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

// createLimiter throttles wallet creation per source IP over a sliding one
// hour window. Past the slow-down threshold each request is delayed by one
// second; past the hard limit requests are refused.
type createLimiter struct {
	mu            sync.Mutex
	hits          *lru.Cache
	limit         int
	slowDownAfter int
}

func newCreateLimiter(limit, slowDownAfter int) *createLimiter {
	cache, _ := lru.New(65536)
	return &createLimiter{
		hits:          cache,
		limit:         limit,
		slowDownAfter: slowDownAfter,
	}
}

// reserve records a hit and returns the delay to apply, or false when the
// caller is over the limit.
func (l *createLimiter) reserve(ip string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var recent []time.Time
	if v, ok := l.hits.Get(ip); ok {
		for _, t := range v.([]time.Time) {
			if now.Sub(t) < createLimiterWindow {
				recent = append(recent, t)
			}
		}
	}
	if len(recent) >= l.limit {
		l.hits.Add(ip, recent)
		return 0, false
	}
	recent = append(recent, now)
	l.hits.Add(ip, recent)
	if len(recent) > l.slowDownAfter {
		return time.Second, true
	}
	return 0, true
}

func (s *Service) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.WalletCreationRateLimit > 0 {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			delay, ok := s.limiter.reserve(ip, time.Now())
			if !ok {
				s.writeError(w, werr.New("RATE_LIMITED", "Too many wallet creations, try later"))
				return
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		next(w, r)
	}
}

func requestAuth(r *http.Request) *coordinator.Auth {
	return r.Context().Value(authKey).(*coordinator.Auth)
}

func requestCreds(r *http.Request) coordinator.Credentials {
	return r.Context().Value(credsKey).(coordinator.Credentials)
}

// decodeBody unmarshals the captured request body into v. An empty body
// decodes into the zero value.
func decodeBody(r *http.Request, v any) error {
	body, _ := r.Context().Value(bodyKey).([]byte)
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return werr.New("INVALID_REQUEST", "Malformed request body")
	}
	return nil
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response write failed", zap.Error(err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	var ce *werr.Error
	if errors.As(err, &ce) {
		status := http.StatusBadRequest
		if ce.Code == "NOT_AUTHORIZED" {
			status = http.StatusUnauthorized
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ce)
		return
	}
	s.log.Error("request failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(werr.New("INTERNAL_ERROR", "Internal server error"))
}
