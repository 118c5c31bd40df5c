// Package suite runs the bookstore account cases: one negative case per
// fixture record, then the fixed create-user-and-authorize scenario.
package suite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
	"github.com/theroutercompany/bookstore_e2e/internal/fixture"
	pkglog "github.com/theroutercompany/bookstore_e2e/pkg/log"
)

// API is the subset of the bookstore client the runner drives.
type API interface {
	BaseURL() string
	Post(ctx context.Context, endpoint bookstore.Endpoint, body any) (*bookstore.Response, error)
	CreateUser(ctx context.Context, user bookstore.UserRequest) (bookstore.UserResponse, *bookstore.Response, error)
	Authorized(ctx context.Context, user bookstore.UserRequest) (bool, *bookstore.Response, error)
	GenerateToken(ctx context.Context, user bookstore.UserRequest) (bookstore.TokenResponse, *bookstore.Response, error)
}

// CaseSource enumerates and resolves fixture records.
type CaseSource interface {
	CaseNames() ([]string, error)
	FindByName(name string) (fixture.Record, error)
}

// ResponseValidator checks a raw response against the API contract.
type ResponseValidator interface {
	ValidateResponse(ctx context.Context, method, path string, status int, header http.Header, body []byte) error
}

// CaseRecorder is told about every finished case.
type CaseRecorder interface {
	ObserveCase(kind, outcome string)
}

// Option customises a Runner.
type Option func(*Runner)

// WithValidator validates every response against a contract.
func WithValidator(v ResponseValidator) Option {
	return func(r *Runner) {
		r.validator = v
	}
}

// WithRecorder reports case outcomes.
func WithRecorder(rec CaseRecorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithLogger overrides the runner logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConcurrency sets how many negative cases run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithCredentials sets the user-name prefix and password of the positive
// scenario's user.
func WithCredentials(prefix, password string) Option {
	return func(r *Runner) {
		r.newUser = func() bookstore.UserRequest {
			return NewUser(prefix, password)
		}
	}
}

// WithUserFactory supplies the positive scenario's user directly.
func WithUserFactory(fn func() bookstore.UserRequest) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newUser = fn
		}
	}
}

// WithUserCreated is called after the positive scenario creates a user.
// Created users are never deleted.
func WithUserCreated(fn func(ctx context.Context, userName string)) Option {
	return func(r *Runner) {
		r.onUserCreated = fn
	}
}

// WithNormalizers applies normalizers to both expected and actual bodies of
// negative cases before they are decoded and compared.
func WithNormalizers(normalizers ...func([]byte) []byte) Option {
	return func(r *Runner) {
		r.normalizers = append(r.normalizers, normalizers...)
	}
}

// Runner executes cases against the API.
type Runner struct {
	api           API
	cases         CaseSource
	validator     ResponseValidator
	recorder      CaseRecorder
	logger        *zap.SugaredLogger
	concurrency   int
	newUser       func() bookstore.UserRequest
	onUserCreated func(ctx context.Context, userName string)
	normalizers   []func([]byte) []byte
}

// NewUser returns credentials with a millisecond timestamp suffix so repeated
// runs do not collide.
func NewUser(prefix, password string) bookstore.UserRequest {
	return bookstore.UserRequest{
		UserName: prefix + strconv.FormatInt(time.Now().UnixMilli(), 10),
		Password: password,
	}
}

// New constructs a Runner.
func New(api API, cases CaseSource, opts ...Option) *Runner {
	r := &Runner{
		api:         api,
		cases:       cases,
		logger:      pkglog.Named("suite"),
		concurrency: 1,
		newUser: func() bookstore.UserRequest {
			return NewUser("User", "Automation@!@123")
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run executes every negative case and then the positive scenario. An error is
// returned only when the case list cannot be loaded; case failures are carried
// in the report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		BaseURL:   r.api.BaseURL(),
		StartedAt: time.Now().UTC(),
	}

	names, err := r.cases.CaseNames()
	if err != nil {
		return report, fmt.Errorf("load fixture cases: %w", err)
	}
	r.logger.Infow("suite starting", "runId", report.RunID, "negativeCases", len(names), "baseUrl", report.BaseURL)

	results := make([]Result, len(names))
	sem := make(chan struct{}, r.concurrency)
	wg := sync.WaitGroup{}

	for i, name := range names {
		if ctx.Err() != nil {
			results[i] = r.notStarted(name, KindNegative, ctx.Err())
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = r.notStarted(name, KindNegative, ctx.Err())
			continue
		}
		wg.Add(1)
		go func(idx int, caseName string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.RunNegativeCase(ctx, caseName)
		}(i, name)
	}
	wg.Wait()

	if ctx.Err() != nil {
		report.Results = append(results, r.notStarted(PositiveCaseName, KindPositive, ctx.Err()))
	} else {
		report.Results = append(results, r.RunPositiveCase(ctx))
	}
	report.FinishedAt = time.Now().UTC()

	r.logger.Infow("suite finished",
		"runId", report.RunID,
		"passed", report.Count(OutcomePassed),
		"failed", len(report.Failures()),
		"durationMs", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// RunNegativeCase sends the named record's request to the user-creation
// endpoint and compares the response body with the record's expected value.
func (r *Runner) RunNegativeCase(ctx context.Context, name string) (res Result) {
	res = Result{Name: name, Kind: KindNegative, StartedAt: time.Now().UTC()}
	defer func() { r.finish(&res) }()

	rec, err := r.cases.FindByName(name)
	if err != nil {
		res.fail(OutcomeError, "resolve fixture", err)
		return res
	}

	rec.Response = r.normalize(rec.Response)
	expected, err := rec.Expected()
	if err != nil {
		res.fail(OutcomeError, "decode expected response", err)
		return res
	}

	resp, err := r.api.Post(ctx, bookstore.EndpointCreateUser, rec.Request)
	if err != nil {
		res.fail(OutcomeError, "create user request", err)
		return res
	}
	res.addStep("create user", resp)

	if err := r.validate(ctx, resp); err != nil {
		res.fail(OutcomeContractViolation, "response breaks contract", err)
		return res
	}

	actual, err := fixture.NewValue(rec.ResponseKind())
	if err != nil {
		res.fail(OutcomeError, "resolve response shape", err)
		return res
	}
	body := r.normalize(resp.Body)
	if err := bookstore.DecodeStrict(body, actual); err != nil {
		res.fail(OutcomeShapeMismatch, fmt.Sprintf("response is not a %s body", rec.ResponseKind()), err)
		res.Diff = diffJSON(rec.Response, body)
		return res
	}

	if diff := cmp.Diff(expected, actual); diff != "" {
		res.fail(OutcomeFailed, "response differs from fixture (-expected +actual)", nil)
		res.Diff = diff
		return res
	}

	res.Outcome = OutcomePassed
	return res
}

// RunPositiveCase creates a fresh user, checks it is not authorized, generates
// a token and checks it is authorized afterwards.
func (r *Runner) RunPositiveCase(ctx context.Context) (res Result) {
	res = Result{Name: PositiveCaseName, Kind: KindPositive, StartedAt: time.Now().UTC()}
	defer func() { r.finish(&res) }()

	user := r.newUser()
	res.UserName = user.UserName

	created, resp, err := r.api.CreateUser(ctx, user)
	if !r.checkCall(ctx, &res, "create user", resp, err) {
		return res
	}
	if r.onUserCreated != nil {
		r.onUserCreated(ctx, user.UserName)
	}

	if len(created.Books) != 0 {
		res.fail(OutcomeFailed, fmt.Sprintf("book list must be empty, got %d books", len(created.Books)), nil)
		return res
	}
	if created.Username != user.UserName {
		res.fail(OutcomeFailed, fmt.Sprintf("username is different than expected: got %q, want %q", created.Username, user.UserName), nil)
		return res
	}

	authorized, resp, err := r.api.Authorized(ctx, user)
	if !r.checkCall(ctx, &res, "authorized before token", resp, err) {
		return res
	}
	if authorized {
		res.fail(OutcomeFailed, "newly added user must not be authorized", nil)
		return res
	}

	token, resp, err := r.api.GenerateToken(ctx, user)
	if !r.checkCall(ctx, &res, "generate token", resp, err) {
		return res
	}
	if msg := checkToken(token, user.UserName); msg != "" {
		res.fail(OutcomeFailed, msg, nil)
		return res
	}

	authorized, resp, err = r.api.Authorized(ctx, user)
	if !r.checkCall(ctx, &res, "authorized after token", resp, err) {
		return res
	}
	if !authorized {
		res.fail(OutcomeFailed, "user must be authorized after successful generated token", nil)
		return res
	}

	res.Outcome = OutcomePassed
	return res
}

// checkCall records the step and classifies call errors. It returns false when
// the case must stop.
func (r *Runner) checkCall(ctx context.Context, res *Result, step string, resp *bookstore.Response, err error) bool {
	if resp != nil {
		res.addStep(step, resp)
		if verr := r.validate(ctx, resp); verr != nil {
			res.fail(OutcomeContractViolation, step+": response breaks contract", verr)
			return false
		}
	}
	if err == nil {
		return true
	}

	var statusErr *bookstore.StatusError
	if errors.As(err, &statusErr) {
		res.fail(OutcomeFailed, fmt.Sprintf("%s: unexpected status %d", step, statusErr.StatusCode), err)
		return false
	}
	if resp != nil {
		res.fail(OutcomeShapeMismatch, step+": undecodable response", err)
		res.Diff = string(resp.Body)
		return false
	}
	res.fail(OutcomeError, step, err)
	return false
}

func checkToken(token bookstore.TokenResponse, userName string) string {
	switch {
	case token.Status != bookstore.TokenStatusSuccess:
		return fmt.Sprintf("token status: got %q, want %q", token.Status, bookstore.TokenStatusSuccess)
	case token.Token == nil:
		return "token must not be null"
	case token.Expires == nil:
		return "token expiry must not be null"
	case token.Result != bookstore.TokenResultAuthorized:
		return fmt.Sprintf("token result: got %q, want %q", token.Result, bookstore.TokenResultAuthorized)
	}

	// The token format belongs to the service; only a readable userName claim
	// is held to the requested user.
	claims, err := bookstore.InspectToken(*token.Token)
	if err == nil && claims.UserName != "" && claims.UserName != userName {
		return fmt.Sprintf("token issued for %q, want %q", claims.UserName, userName)
	}
	return ""
}

func (r *Runner) validate(ctx context.Context, resp *bookstore.Response) error {
	if r.validator == nil || resp == nil {
		return nil
	}
	return r.validator.ValidateResponse(ctx, resp.Method, resp.Path, resp.StatusCode, resp.Header, resp.Body)
}

func (r *Runner) normalize(body []byte) []byte {
	for _, normalizer := range r.normalizers {
		body = normalizer(body)
	}
	return body
}

// notStarted reports a case skipped because the run was cancelled.
func (r *Runner) notStarted(name string, kind CaseKind, err error) Result {
	res := Result{Name: name, Kind: kind, StartedAt: time.Now().UTC()}
	res.fail(OutcomeError, "not started", err)
	r.finish(&res)
	return res
}

func (r *Runner) finish(res *Result) {
	res.Duration = time.Since(res.StartedAt)
	if r.recorder != nil {
		r.recorder.ObserveCase(string(res.Kind), string(res.Outcome))
	}

	fields := []interface{}{"case", res.Name, "kind", res.Kind, "outcome", res.Outcome, "durationMs", res.Duration.Milliseconds()}
	if res.Passed() {
		r.logger.Infow("case passed", fields...)
		return
	}
	fields = append(fields, "message", res.Message)
	if res.Err != nil {
		fields = append(fields, "error", res.Err)
	}
	r.logger.Warnw("case did not pass", fields...)
}

func (res *Result) fail(outcome Outcome, message string, err error) {
	res.Outcome = outcome
	res.Message = message
	res.Err = err
	if err != nil {
		res.Message = message + ": " + err.Error()
	}
}

func (res *Result) addStep(name string, resp *bookstore.Response) {
	res.Steps = append(res.Steps, Step{
		Name:       name,
		Endpoint:   resp.Endpoint,
		StatusCode: resp.StatusCode,
		Latency:    resp.Latency,
		RequestID:  resp.RequestID,
	})
}
