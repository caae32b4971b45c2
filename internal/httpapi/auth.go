package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

const tokenIssuer = "pdv"

// AuthManager issues and checks bearer tokens and manages user accounts.
// Tokens only carry the username; the user row is loaded on every request so
// role and permission changes apply immediately.
type AuthManager struct {
	repo     store.Repository
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

type pdvClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(repo store.Repository, secret string, tokenTTL time.Duration) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 6 * time.Hour
	}
	return &AuthManager{
		repo:     repo,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)

	var user *domain.User
	err := a.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.GetUserByUsername(ctx, username)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, fmt.Errorf("%w: invalid credentials", errUnauthorized)
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, fmt.Errorf("%w: invalid credentials", errUnauthorized)
	}

	token, err := a.sign(*user)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user.Summary(),
	}, nil
}

// ParseToken returns the token subject.
func (a *AuthManager) ParseToken(tokenStr string) (string, error) {
	claims := &pdvClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid or expired token", errUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: invalid token subject", errUnauthorized)
	}
	return sub, nil
}

// Authenticate resolves a bearer token to the current user row.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.User, error) {
	username, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.User{}, err
	}

	var user *domain.User
	err = a.repo.WithinTx(ctx, func(tx store.Tx) error {
		user, err = tx.GetUserByUsername(ctx, username)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, fmt.Errorf("%w: unknown user", errUnauthorized)
	}
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (a *AuthManager) sign(user domain.User) (string, error) {
	now := a.now().UTC()
	claims := pdvClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(a.tokenTTL)),
			Issuer:    tokenIssuer,
		},
		Role: string(user.Role),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Register creates a user through the public registration endpoint. While no
// user exists anyone may register and the account is forced to admin. After
// that the caller must be an authenticated admin. The users table is locked
// before counting so concurrent bootstrap attempts cannot both see zero users.
func (a *AuthManager) Register(ctx context.Context, caller *domain.User, req domain.UserCreateRequest) (domain.User, error) {
	var created domain.User
	err := a.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUsers(ctx); err != nil {
			return err
		}
		count, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			req.Role = domain.RoleAdmin
		} else {
			if caller == nil {
				return fmt.Errorf("%w: registration is closed", errUnauthorized)
			}
			if caller.Role != domain.RoleAdmin {
				return fmt.Errorf("%w: administrators only", errForbidden)
			}
		}
		created, err = createUser(ctx, tx, req)
		return err
	})
	return created, err
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := []domain.User{}
	err := a.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		users = append(users, found...)
		return nil
	})
	return users, err
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	var created domain.User
	err := a.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = createUser(ctx, tx, req)
		return err
	})
	return created, err
}

func createUser(ctx context.Context, tx store.Tx, req domain.UserCreateRequest) (domain.User, error) {
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkPassword(req.Password); err != nil {
		return domain.User{}, err
	}
	role := req.Role
	if role == "" {
		role = domain.RoleOperator
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", store.ErrInvalid, role)
	}
	perms, err := resolvePermissions(role, req.Permissions)
	if err != nil {
		return domain.User{}, err
	}
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := tx.CreateUser(ctx, domain.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Permissions:  perms,
		FullName:     trimmedOrNil(req.FullName),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("%w: username already exists", store.ErrConflict)
		}
		return domain.User{}, err
	}
	return *created, nil
}

// UpdateUser applies the fields present in req. Changing the role without
// sending permissions renormalizes the stored set for the new role.
func (a *AuthManager) UpdateUser(ctx context.Context, id int64, req domain.UserUpdateRequest) (domain.User, error) {
	var updated domain.User
	err := a.repo.WithinTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserByID(ctx, id)
		if err != nil {
			return err
		}

		if req.Username.Set {
			username, err := normalizeUsername(req.Username.Value)
			if err != nil {
				return err
			}
			user.Username = username
		}
		if req.FullName.Set {
			user.FullName = trimmedOrNil(req.FullName.Ptr())
		}
		if req.Role.Set {
			if !req.Role.Value.Valid() {
				return fmt.Errorf("%w: unknown role %q", store.ErrInvalid, req.Role.Value)
			}
			user.Role = req.Role.Value
		}
		// A null or empty password keeps the current one.
		if req.Password.Valid && req.Password.Value != "" {
			if err := checkPassword(req.Password.Value); err != nil {
				return err
			}
			hash, err := hashPassword(req.Password.Value)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			user.PasswordHash = hash
		}
		if req.Permissions.Set {
			perms, err := resolvePermissions(user.Role, req.Permissions.Value)
			if err != nil {
				return err
			}
			user.Permissions = perms
		} else if req.Role.Set {
			user.Permissions = permissionsForRole(user.Role, user.Permissions)
		}

		saved, err := tx.UpdateUser(ctx, *user)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: username already exists", store.ErrConflict)
			}
			return err
		}
		updated = *saved
		return nil
	})
	return updated, err
}

func (a *AuthManager) DeleteUser(ctx context.Context, caller domain.User, id int64) error {
	if caller.ID == id {
		return fmt.Errorf("%w: you cannot delete your own account", store.ErrInvalid)
	}
	return a.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DeleteUser(ctx, id)
	})
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if len(username) < 3 {
		return "", fmt.Errorf("%w: username must be at least 3 characters", store.ErrInvalid)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return "", fmt.Errorf("%w: username must not contain spaces", store.ErrInvalid)
	}
	return username, nil
}

// checkPassword bounds the length; bcrypt ignores bytes past 72.
func checkPassword(password string) error {
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalid)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", store.ErrInvalid)
	}
	return nil
}

func resolvePermissions(role domain.Role, tags []string) (domain.PermissionSet, error) {
	perms, err := domain.ParsePermissionList(tags)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return permissionsForRole(role, perms), nil
}

// permissionsForRole stores the full set for admins and defaults operators
// with no tags to sales.
func permissionsForRole(role domain.Role, perms domain.PermissionSet) domain.PermissionSet {
	if role == domain.RoleAdmin {
		return domain.AllPermissions()
	}
	if perms == 0 {
		return domain.NewPermissionSet(domain.PermSales)
	}
	return perms
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
