// Package fixture loads the named request/expected-response records that drive
// the data-driven negative cases.
package fixture

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
)

// DefaultPath is the name of the fixture file compiled into the binary.
const DefaultPath = "user-negative-test-data.json"

//go:embed user-negative-test-data.json
var embedded embed.FS

var (
	ErrFixtureUnavailable = errors.New("fixture file unavailable")
	ErrCaseNotFound       = errors.New("fixture case not found")
	ErrDuplicateName      = errors.New("duplicate fixture name")
	ErrUnknownKind        = errors.New("unknown fixture response kind")
)

// Kind tags the shape a record's expected response decodes into.
type Kind string

const (
	KindError Kind = "error"
	KindUser  Kind = "user"
	KindToken Kind = "token"
)

// NewValue returns a pointer to a zero value of the shape for kind.
func NewValue(kind Kind) (any, error) {
	switch kind {
	case KindError, "":
		return &bookstore.ErrorResponse{}, nil
	case KindUser:
		return &bookstore.UserResponse{}, nil
	case KindToken:
		return &bookstore.TokenResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Record pairs a case name with the request to send and the response expected
// back.
type Record struct {
	Name     string                `json:"name"`
	Kind     Kind                  `json:"kind,omitempty"`
	Request  bookstore.UserRequest `json:"request"`
	Response json.RawMessage       `json:"response"`
}

// ResponseKind returns the record's kind, defaulting to KindError.
func (r Record) ResponseKind() Kind {
	if r.Kind == "" {
		return KindError
	}
	return r.Kind
}

// Expected decodes the record's response into the shape for its kind. The
// result is a pointer such as *bookstore.ErrorResponse.
func (r Record) Expected() (any, error) {
	value, err := NewValue(r.ResponseKind())
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(r.Response)) == 0 {
		return nil, fmt.Errorf("fixture %q: response is empty", r.Name)
	}
	if err := bookstore.DecodeStrict(r.Response, value); err != nil {
		return nil, fmt.Errorf("fixture %q: decode %s response: %w", r.Name, r.ResponseKind(), err)
	}
	return value, nil
}

// Store reads records from a file. Records are re-read on every call.
type Store struct {
	fsys fs.FS
	path string
}

// NewStore reads the fixture file at path within fsys.
func NewStore(fsys fs.FS, path string) *Store {
	return &Store{fsys: fsys, path: path}
}

// Default returns a store over the fixture file compiled into the binary.
func Default() *Store {
	return NewStore(embedded, DefaultPath)
}

// Open returns a store over a fixture file on disk, or Default when path is
// empty.
func Open(path string) *Store {
	if path == "" {
		return Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return NewStore(os.DirFS(filepath.Dir(abs)), filepath.Base(abs))
}

// Path returns the file the store reads.
func (s *Store) Path() string {
	return s.path
}

// LoadAll reads and decodes every record in file order.
func (s *Store) LoadAll() ([]Record, error) {
	data, err := fs.ReadFile(s.fsys, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrFixtureUnavailable, s.path, err)
		}
		return nil, fmt.Errorf("read fixture %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", s.path, err)
	}

	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec.Name == "" {
			return nil, fmt.Errorf("fixture %s: record %d has no name", s.path, i)
		}
		if _, dup := seen[rec.Name]; dup {
			return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateName, rec.Name, s.path)
		}
		seen[rec.Name] = struct{}{}
		if _, err := NewValue(rec.Kind); err != nil {
			return nil, fmt.Errorf("fixture %q: %w", rec.Name, err)
		}
	}
	return records, nil
}

// FindByName returns the record with the given name.
func (s *Store) FindByName(name string) (Record, error) {
	records, err := s.LoadAll()
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.Name == name {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %q", ErrCaseNotFound, name)
}

// CaseNames returns every record name in file order.
func (s *Store) CaseNames() ([]string, error) {
	records, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Name)
	}
	return names, nil
}

// Validate loads every record and decodes its expected response.
func (s *Store) Validate() (int, error) {
	records, err := s.LoadAll()
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, rec := range records {
		if _, err := rec.Expected(); err != nil {
			errs = append(errs, err)
		}
	}
	return len(records), errors.Join(errs...)
}
