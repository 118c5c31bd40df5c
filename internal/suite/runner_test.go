package suite

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"go.uber.org/zap"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
	"github.com/theroutercompany/bookstore_e2e/internal/bookstore/bookstoretest"
	"github.com/theroutercompany/bookstore_e2e/internal/contract"
	"github.com/theroutercompany/bookstore_e2e/internal/fixture"
)

const emptyPasswordCase = `[
  {"name":"existing user with empty password","request":{"userName":"existing_user","password":""},
   "response":{"code":"1200","message":"UserName and Password required."}}
]`

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) ObserveCase(kind, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind+"/"+outcome]++
}

func fixtures(content string) *fixture.Store {
	return fixture.NewStore(fstest.MapFS{"cases.json": {Data: []byte(content)}}, "cases.json")
}

func newRunner(t *testing.T, srv *bookstoretest.Server, cases CaseSource, opts ...Option) *Runner {
	t.Helper()
	client, err := bookstore.New(bookstore.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	validator, err := contract.New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	base := []Option{WithLogger(zap.NewNop().Sugar()), WithValidator(validator)}
	return New(client, cases, append(base, opts...)...)
}

func TestRunNegativeCasePasses(t *testing.T) {
	srv := bookstoretest.NewServer(bookstoretest.WithUser("existing_user", "Automation@!@123"))
	defer srv.Close()

	res := newRunner(t, srv, fixtures(emptyPasswordCase)).RunNegativeCase(context.Background(), "existing user with empty password")
	if !res.Passed() {
		t.Fatalf("expected pass, got %s: %s\n%s", res.Outcome, res.Message, res.Diff)
	}
	if len(res.Steps) != 1 || res.Steps[0].StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected steps: %+v", res.Steps)
	}
	if res.Duration <= 0 {
		t.Fatalf("expected duration to be recorded")
	}
}

func TestRunNegativeCaseReportsBothValues(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	content := `[{"name":"wrong message","request":{"userName":"existing_user","password":""},
	  "response":{"code":"1200","message":"Password required."}}]`

	res := newRunner(t, srv, fixtures(content)).RunNegativeCase(context.Background(), "wrong message")
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s: %s", res.Outcome, res.Message)
	}
	if !strings.Contains(res.Diff, "Password required.") || !strings.Contains(res.Diff, "UserName and Password required.") {
		t.Fatalf("expected diff to carry expected and actual values:\n%s", res.Diff)
	}
}

func TestRunNegativeCaseShapeMismatch(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	content := `[{"name":"expects error but user is created","request":{"userName":"fresh","password":"Automation@!@123"},
	  "response":{"code":"1204","message":"User exists!"}}]`

	res := newRunner(t, srv, fixtures(content)).RunNegativeCase(context.Background(), "expects error but user is created")
	if res.Outcome != OutcomeShapeMismatch {
		t.Fatalf("expected shape mismatch, got %s: %s", res.Outcome, res.Message)
	}
	if !strings.Contains(res.Diff, "User exists!") || !strings.Contains(res.Diff, "userID") {
		t.Fatalf("expected canonical diff of both bodies:\n%s", res.Diff)
	}
	if !srv.HasUser("fresh") {
		t.Fatalf("expected the fake to have created the user")
	}
}

func TestRunNegativeCaseContractViolation(t *testing.T) {
	srv := bookstoretest.NewServer(bookstoretest.WithOverride(bookstoretest.PathCreateUser, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := newRunner(t, srv, fixtures(emptyPasswordCase)).RunNegativeCase(context.Background(), "existing user with empty password")
	if res.Outcome != OutcomeContractViolation {
		t.Fatalf("expected contract violation, got %s: %s", res.Outcome, res.Message)
	}
	if !errors.Is(res.Err, contract.ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", res.Err)
	}
}

func TestRunNegativeCaseUnknownName(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	res := newRunner(t, srv, fixtures(emptyPasswordCase)).RunNegativeCase(context.Background(), "missing")
	if res.Outcome != OutcomeError {
		t.Fatalf("expected harness error, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, fixture.ErrCaseNotFound) {
		t.Fatalf("expected ErrCaseNotFound, got %v", res.Err)
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("expected no HTTP calls for an unresolved case")
	}
}

func TestRunNegativeCaseWithNormalizer(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	content := `[{"name":"ignore message","request":{"userName":"","password":""},
	  "response":{"code":"1200","message":"localised text"}}]`

	runner := newRunner(t, srv, fixtures(content), WithNormalizers(StripJSONKeys("message")))
	res := runner.RunNegativeCase(context.Background(), "ignore message")
	if !res.Passed() {
		t.Fatalf("expected pass with message stripped, got %s: %s\n%s", res.Outcome, res.Message, res.Diff)
	}
}

func TestRunPositiveCase(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	var created []string
	runner := newRunner(t, srv, fixtures("[]"),
		WithUserFactory(func() bookstore.UserRequest {
			return bookstore.UserRequest{UserName: "UserX", Password: "Automation@!@123"}
		}),
		WithUserCreated(func(_ context.Context, name string) { created = append(created, name) }),
	)

	res := runner.RunPositiveCase(context.Background())
	if !res.Passed() {
		t.Fatalf("expected pass, got %s: %s", res.Outcome, res.Message)
	}
	if res.UserName != "UserX" {
		t.Fatalf("unexpected user: %s", res.UserName)
	}

	wantSteps := []string{"create user", "authorized before token", "generate token", "authorized after token"}
	if len(res.Steps) != len(wantSteps) {
		t.Fatalf("expected %d steps, got %+v", len(wantSteps), res.Steps)
	}
	for i, name := range wantSteps {
		if res.Steps[i].Name != name {
			t.Fatalf("step %d: got %s, want %s", i, res.Steps[i].Name, name)
		}
		if res.Steps[i].RequestID == "" {
			t.Fatalf("step %d has no request id", i)
		}
	}
	if len(created) != 1 || created[0] != "UserX" {
		t.Fatalf("expected created-user hook, got %v", created)
	}
}

func TestRunPositiveCaseDetectsPrematureAuthorization(t *testing.T) {
	srv := bookstoretest.NewServer(bookstoretest.WithOverride(bookstoretest.PathAuthorized, func(w http.ResponseWriter, _ *http.Request) {
		bookstoretest.WriteJSON(w, http.StatusOK, true)
	}))
	defer srv.Close()

	res := newRunner(t, srv, fixtures("[]")).RunPositiveCase(context.Background())
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s", res.Outcome)
	}
	if res.Message != "newly added user must not be authorized" {
		t.Fatalf("unexpected message: %s", res.Message)
	}
}

func TestRunPositiveCaseDetectsFailedToken(t *testing.T) {
	srv := bookstoretest.NewServer(bookstoretest.WithOverride(bookstoretest.PathGenerateToken, func(w http.ResponseWriter, _ *http.Request) {
		bookstoretest.WriteJSON(w, http.StatusOK, map[string]any{
			"token": nil, "expires": nil, "status": "Failed", "result": "User authorization failed.",
		})
	}))
	defer srv.Close()

	res := newRunner(t, srv, fixtures("[]")).RunPositiveCase(context.Background())
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s", res.Outcome)
	}
	if !strings.Contains(res.Message, "token status") {
		t.Fatalf("unexpected message: %s", res.Message)
	}
}

func TestRunPositiveCaseRejectedUser(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	runner := newRunner(t, srv, fixtures("[]"), WithCredentials("User", "weak"))
	res := runner.RunPositiveCase(context.Background())
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s: %s", res.Outcome, res.Message)
	}
	var statusErr *bookstore.StatusError
	if !errors.As(res.Err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", res.Err)
	}
}

func TestRunWithEmbeddedFixtures(t *testing.T) {
	srv := bookstoretest.NewServer(bookstoretest.WithUser("existing_user", "Automation@!@123"))
	defer srv.Close()

	recorder := &countingRecorder{}
	runner := newRunner(t, srv, fixture.Default(), WithRecorder(recorder), WithConcurrency(3))

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed() {
		for _, f := range report.Failures() {
			t.Errorf("%s: %s %s\n%s", f.Name, f.Outcome, f.Message, f.Diff)
		}
		t.FailNow()
	}

	names, err := fixture.Default().CaseNames()
	if err != nil {
		t.Fatalf("case names: %v", err)
	}
	if len(report.Results) != len(names)+1 {
		t.Fatalf("expected %d results, got %d", len(names)+1, len(report.Results))
	}
	for i, name := range names {
		if report.Results[i].Name != name {
			t.Fatalf("result %d: got %s, want %s", i, report.Results[i].Name, name)
		}
	}
	if last := report.Results[len(report.Results)-1]; last.Kind != KindPositive {
		t.Fatalf("expected positive case last, got %s", last.Kind)
	}
	if recorder.counts["negative/passed"] != len(names) || recorder.counts["positive/passed"] != 1 {
		t.Fatalf("unexpected recorded outcomes: %v", recorder.counts)
	}
	if report.RunID == "" || report.BaseURL != srv.URL {
		t.Fatalf("unexpected report header: %+v", report)
	}
}

func TestRunEmptyFixturesStillRunsPositive(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	report, err := newRunner(t, srv, fixtures("")).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Kind != KindPositive {
		t.Fatalf("expected only the positive case, got %+v", report.Results)
	}
	if !report.Passed() {
		t.Fatalf("expected positive case to pass: %s", report.Results[0].Message)
	}
}

func TestRunFailsWhenFixturesUnavailable(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	store := fixture.NewStore(fstest.MapFS{}, "missing.json")
	_, err := newRunner(t, srv, store).Run(context.Background())
	if !errors.Is(err, fixture.ErrFixtureUnavailable) {
		t.Fatalf("expected ErrFixtureUnavailable, got %v", err)
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("expected no cases to run")
	}
}

func TestRunTransportFailureIsError(t *testing.T) {
	client, err := bookstore.New(bookstore.Config{BaseURL: "http://127.0.0.1:1", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	runner := New(client, fixtures(emptyPasswordCase), WithLogger(zap.NewNop().Sugar()))

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Count(OutcomeError) != 2 {
		t.Fatalf("expected both cases to error, got %+v", report.Results)
	}
}

func TestRunStopsStartingCasesWhenCancelled(t *testing.T) {
	srv := bookstoretest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder := &countingRecorder{}
	report, err := newRunner(t, srv, fixture.Default(), WithRecorder(recorder)).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	names, err := fixture.Default().CaseNames()
	if err != nil {
		t.Fatalf("case names: %v", err)
	}
	if len(report.Results) != len(names)+1 {
		t.Fatalf("expected a result for every case, got %d", len(report.Results))
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomeError || !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("expected %q to be reported as cancelled, got %s: %v", res.Name, res.Outcome, res.Err)
		}
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("expected no calls after cancellation, got %d", len(srv.Requests()))
	}
	if recorder.counts["negative/error"] != len(names) || recorder.counts["positive/error"] != 1 {
		t.Fatalf("unexpected recorded outcomes: %v", recorder.counts)
	}
}
