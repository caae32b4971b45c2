package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/unrolled/render"
	"go.uber.org/zap"

	"pdv/backend/internal/catalog"
	"pdv/backend/internal/dashboard"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/ledger"
	"pdv/backend/internal/media"
	"pdv/backend/internal/store"
)

const maxJSONBody = 1 << 20

// LoginRate is the per client address budget for login attempts.
var LoginRate = limiter.Rate{Period: time.Minute, Limit: 5}

type Options struct {
	Catalog       *catalog.Catalog
	Ledger        *ledger.Ledger
	Dashboard     *dashboard.Dashboard
	Auth          *AuthManager
	Images        *media.ImageStore
	Logger        *zap.Logger
	AllowedOrigin string
}

type API struct {
	catalog       *catalog.Catalog
	ledger        *ledger.Ledger
	dashboard     *dashboard.Dashboard
	auth          *AuthManager
	images        *media.ImageStore
	logger        *zap.Logger
	render        *render.Render
	allowedOrigin string
	loginLimiter  *limiter.Limiter
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		catalog:       opts.Catalog,
		ledger:        opts.Ledger,
		dashboard:     opts.Dashboard,
		auth:          opts.Auth,
		images:        opts.Images,
		logger:        logger,
		render:        render.New(render.Options{}),
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  limiter.New(limitermemory.NewStore(), LoginRate),
	}
}

type userContextKey struct{}

func withUser(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func currentUser(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(domain.User)
	return user, ok
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	router := mux.NewRouter()
	router.NotFoundHandler = notFound
	router.MethodNotAllowedHandler = methodNotAllowed

	// Subrouters resolve misses themselves, so they need their own handlers.
	api := router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed
	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", a.requireAuth(a.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)

	api.HandleFunc("/products/find", a.requirePermission(domain.PermSales, a.handleFindProduct)).Methods(http.MethodGet)
	api.HandleFunc("/products", a.requirePermission(domain.PermProducts, a.handleListProducts)).Methods(http.MethodGet)
	api.HandleFunc("/products", a.requireAdmin(a.handleCreateProduct)).Methods(http.MethodPost)
	api.HandleFunc("/products/{id:[0-9]+}", a.requirePermission(domain.PermProducts, a.handleGetProduct)).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", a.requireAdmin(a.handleUpdateProduct)).Methods(http.MethodPut)
	api.HandleFunc("/products/{id:[0-9]+}", a.requireAdmin(a.handleDeleteProduct)).Methods(http.MethodDelete)
	api.HandleFunc("/products/{id:[0-9]+}/variants", a.requirePermission(domain.PermProducts, a.handleListVariants)).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}/variants", a.requireAdmin(a.handleUpsertVariant)).Methods(http.MethodPost)
	api.HandleFunc("/upload/product-image", a.requireAdmin(a.handleUploadProductImage)).Methods(http.MethodPost)

	api.HandleFunc("/sales", a.requirePermission(domain.PermSales, a.handleRecordSale)).Methods(http.MethodPost)
	api.HandleFunc("/sales", a.requirePermission(domain.PermSales, a.handleListSales)).Methods(http.MethodGet)
	api.HandleFunc("/clients", a.requirePermission(domain.PermSales, a.handleListClients)).Methods(http.MethodGet)

	api.HandleFunc("/dashboard/summary", a.requirePermission(domain.PermDashboard, a.handleDashboardSummary)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/latest_sales", a.requirePermission(domain.PermDashboard, a.handleLatestSales)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/top_products", a.requirePermission(domain.PermDashboard, a.handleTopProducts)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/export/sales.csv", a.requirePermission(domain.PermDashboard, a.handleExportSalesCSV)).Methods(http.MethodGet)

	api.HandleFunc("/admin/users", a.requireAdmin(a.handleListUsers)).Methods(http.MethodGet)
	api.HandleFunc("/admin/users", a.requireAdmin(a.handleCreateUser)).Methods(http.MethodPost)
	api.HandleFunc("/admin/users/{id:[0-9]+}", a.requireAdmin(a.handleUpdateUser)).Methods(http.MethodPut)
	api.HandleFunc("/admin/users/{id:[0-9]+}", a.requireAdmin(a.handleDeleteUser)).Methods(http.MethodDelete)

	if a.images != nil {
		files := http.StripPrefix(media.PublicPrefix, http.FileServer(http.Dir(a.images.Dir())))
		router.PathPrefix(media.PublicPrefix).Handler(files).Methods(http.MethodGet, http.MethodHead)
	}

	return a.withMiddleware(router)
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authorization[len("Bearer "):])
	return token, token != ""
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		user, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}

		next(w, r.WithContext(withUser(r.Context(), user)))
	}
}

func (a *API) requirePermission(perm domain.Permission, next http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		user, _ := currentUser(r.Context())
		if !user.Can(perm) {
			a.writeError(w, http.StatusForbidden, fmt.Errorf("missing permission %q", perm))
			return
		}
		next(w, r)
	})
}

func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		user, _ := currentUser(r.Context())
		if user.Role != domain.RoleAdmin {
			a.writeError(w, http.StatusForbidden, errors.New("administrators only"))
			return
		}
		next(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	limit, err := a.loginLimiter.Get(r.Context(), clientKey(r))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
	if limit.Reached {
		w.Header().Set("Retry-After", strconv.FormatInt(max(limit.Reset-time.Now().Unix(), 1), 10))
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := currentUser(r.Context())
	a.writeJSON(w, http.StatusOK, user)
}

// handleRegister authenticates optionally: the first account needs no token,
// every later one needs an admin token.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var caller *domain.User
	if token, ok := bearerToken(r); ok {
		user, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		caller = &user
	}

	var req domain.UserCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeServiceError(w, err)
		return
	}

	user, err := a.auth.Register(r.Context(), caller, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Info("user registered", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	a.writeJSON(w, http.StatusCreated, user)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: invalid JSON body: %v", store.ErrInvalid, err)
}

// decodeValid decodes a JSON body and runs the struct tag validation.
func (a *API) decodeValid(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	return validateStruct(dest)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid id", store.ErrInvalid)
	}
	return id, nil
}

// parsePositiveLimit returns 0 for a missing or unusable value so the
// service default applies.
func parsePositiveLimit(raw string, max int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return 0
	}
	if max > 0 && parsed > max {
		return max
	}
	return parsed
}

func parseOffset(raw string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), media.IsTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	payload := map[string]any{"error": msg}
	var invalid *validationError
	if errors.As(err, &invalid) {
		payload["fields"] = invalid.fields
	}
	a.writeJSON(w, status, payload)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := a.render.JSON(w, status, payload); err != nil {
		a.logger.Error("write response", zap.Error(err))
	}
}
