package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"reserva/internal/config"
	"reserva/internal/domain"
	"reserva/internal/tenancy"
)

const (
	permReadAppointments  = "read:appointments"
	permWriteAppointments = "write:appointments"
	permReadPayments      = "read:payments"
	permWritePayments     = "write:payments"
	permReadJobs          = "read:jobs"

	// tenantHeader scopes requests when auth is disabled, for local development.
	tenantHeader = "x-tenant-id"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// HTTPAuth resolves the API key to its tenant and applies per-key rate limiting.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		clients: cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Auth.Enabled {
			tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
			if tenantID == "" {
				writeError(w, http.StatusUnauthorized, "missing "+tenantHeader+" header")
				return
			}
			ctx := tenancy.WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		client, err := a.checkAuth(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errPermissionDenied) {
				status = http.StatusForbidden
			}
			writeError(w, status, err.Error())
			return
		}

		if !a.limiter.allow(client.Key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ctx := tenancy.WithTenantID(r.Context(), client.TenantID)
		ctx = tenancy.WithActor(ctx, actorName(client))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.cfg.Auth.HeaderAPIKey))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if client.Extra != "" {
		extra := strings.TrimSpace(r.Header.Get(a.cfg.Auth.HeaderExtra))
		if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
			return config.APIClientKey{}, errInvalidExtra
		}
	}
	if err := checkPermissions(client, requiredPermission(r)); err != nil {
		return config.APIClientKey{}, err
	}
	return client, nil
}

// lookup compares against every configured key so timing does not reveal a prefix match.
func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	var (
		found config.APIClientKey
		ok    bool
	)
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			found, ok = c, true
		}
	}
	return found, ok
}

func checkPermissions(client config.APIClientKey, required string) error {
	// An empty permission list allows everything.
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	read := r.Method == http.MethodGet
	switch {
	case strings.HasPrefix(path, "/api/v1/jobs"):
		return permReadJobs
	case strings.HasPrefix(path, "/api/v1/payments"), strings.Contains(path, "/deposits"):
		if read {
			return permReadPayments
		}
		return permWritePayments
	case read:
		return permReadAppointments
	default:
		return permWriteAppointments
	}
}

func actorName(c config.APIClientKey) string {
	if c.Name != "" {
		return c.Name
	}
	return "api"
}

func actorOf(r *http.Request) string {
	return tenancy.ActorFromContext(r.Context())
}

// tenantOf returns the tenant bound by the auth middleware.
func tenantOf(r *http.Request) (string, error) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		return "", domain.Forbidden("no tenant bound to request")
	}
	return tenantID, nil
}
