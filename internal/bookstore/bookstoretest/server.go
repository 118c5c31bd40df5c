// Package bookstoretest provides an in-process fake of the bookstore account
// endpoints for tests. It models the externally observed behaviour: user
// creation with password policy and duplicate detection, and the two-state
// authorization toggled by a successful token request.
package bookstoretest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	PathCreateUser    = "/Account/v1/User"
	PathAuthorized    = "/Account/v1/Authorized"
	PathGenerateToken = "/Account/v1/GenerateToken"

	tokenLifetime = 7 * 24 * time.Hour
)

// Error bodies returned by the fake, matching the live service.
var (
	ErrCredentialsRequired = ErrorBody{Code: "1200", Message: "UserName and Password required."}
	ErrPasswordPolicy      = ErrorBody{Code: "1300", Message: "Passwords must have at least one non alphanumeric character, one digit ('0'-'9'), one uppercase ('A'-'Z'), one lowercase ('a'-'z'), one special character and Password must be eight characters or longer."}
	ErrUserExists          = ErrorBody{Code: "1204", Message: "User exists!"}
	ErrUserNotFound        = ErrorBody{Code: "1207", Message: "User not found!"}
)

// ErrorBody is the error document written by the fake.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestRecord captures what the fake saw for a single call.
type RequestRecord struct {
	Path        string
	RequestID   string
	UserAgent   string
	ContentType string
}

type account struct {
	id           string
	passwordHash []byte
	authorized   bool
}

func newAccount(password string) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	return &account{id: uuid.NewString(), passwordHash: hash}, nil
}

func (a *account) matches(password string) bool {
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
}

// Option customises the fake.
type Option func(*Server)

// WithOverride replaces the handler of one path, e.g. to return a body the
// real service would not.
func WithOverride(path string, h http.HandlerFunc) Option {
	return func(s *Server) {
		s.overrides[path] = h
	}
}

// WithUser pre-registers an account.
func WithUser(userName, password string) Option {
	return func(s *Server) {
		acct, err := newAccount(password)
		if err != nil {
			panic("bookstoretest: " + err.Error())
		}
		s.users[userName] = acct
	}
}

// Server is a running fake bookstore.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]*account
	requests  []RequestRecord
	overrides map[string]http.HandlerFunc
	secret    []byte
}

// NewServer starts a fake bookstore. Callers must Close it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		users:     make(map[string]*account),
		overrides: make(map[string]http.HandlerFunc),
		secret:    []byte(uuid.NewString()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/Account/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/User", s.routeOrOverride(PathCreateUser, s.createUser))
		r.Post("/Authorized", s.routeOrOverride(PathAuthorized, s.authorized))
		r.Post("/GenerateToken", s.routeOrOverride(PathGenerateToken, s.generateToken))
	})
	return r
}

// Requests returns the calls seen so far.
func (s *Server) Requests() []RequestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestRecord, len(s.requests))
	copy(out, s.requests)
	return out
}

// HasUser reports whether userName is registered.
func (s *Server) HasUser(userName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userName]
	return ok
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RequestRecord{
			Path:        r.URL.Path,
			RequestID:   r.Header.Get("X-Request-Id"),
			UserAgent:   r.UserAgent(),
			ContentType: r.Header.Get("Content-Type"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routeOrOverride(path string, h http.HandlerFunc) http.HandlerFunc {
	if override, ok := s.overrides[path]; ok {
		return override
	}
	return h
}

type credentials struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.UserName == "" || creds.Password == "" {
		WriteJSON(w, http.StatusBadRequest, ErrCredentialsRequired)
		return creds, false
	}
	return creds, true
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	if !passwordAcceptable(creds.Password) {
		WriteJSON(w, http.StatusBadRequest, ErrPasswordPolicy)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[creds.UserName]; exists {
		s.mu.Unlock()
		WriteJSON(w, http.StatusNotAcceptable, ErrUserExists)
		return
	}
	acct, err := newAccount(creds.Password)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.users[creds.UserName] = acct
	s.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]any{
		"userID":   acct.id,
		"username": creds.UserName,
		"books":    []any{},
	})
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	acct, exists := s.users[creds.UserName]
	valid := exists && acct.matches(creds.Password)
	authorized := valid && acct.authorized
	s.mu.Unlock()

	if !valid {
		WriteJSON(w, http.StatusNotFound, ErrUserNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, authorized)
}

func (s *Server) generateToken(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	acct, exists := s.users[creds.UserName]
	valid := exists && acct.matches(creds.Password)
	if valid {
		acct.authorized = true
	}
	s.mu.Unlock()

	if !valid {
		WriteJSON(w, http.StatusOK, map[string]any{
			"token":   nil,
			"expires": nil,
			"status":  "Failed",
			"result":  "User authorization failed.",
		})
		return
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userName": creds.UserName,
		"iat":      now.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"token":   signed,
		"expires": now.Add(tokenLifetime).Format(time.RFC3339Nano),
		"status":  "Success",
		"result":  "User authorized successfully.",
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func passwordAcceptable(password string) bool {
	if len(password) < 8 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return upper && lower && digit && special
}
