package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
)

type State int

const (
	StateIdle State = iota
	StateFileSelected
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFileSelected:
		return "file-selected"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrSubmitInFlight = errors.New("an inspection is already being submitted")
	ErrNoFileSelected = errors.New("no file selected")
)

// Submitter sends one drawing to the relay.
type Submitter interface {
	Inspect(ctx context.Context, path string) (*domain.InspectResponse, error)
}

type SelectedFile struct {
	Name string
	Path string
	Size int64
}

// Session drives one upload form: select a file, submit it once, show the
// outcome. Failures are kept on the session so callers can present them.
type Session struct {
	mu     sync.Mutex
	sub    Submitter
	state  State
	file   *SelectedFile
	result *domain.InspectResponse
	err    error
}

func NewSession(sub Submitter) *Session {
	return &Session{sub: sub}
}

func (s *Session) Select(path string) (SelectedFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return SelectedFile{}, err
	}
	if !fi.Mode().IsRegular() {
		return SelectedFile{}, fmt.Errorf("%s is not a regular file", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return SelectedFile{}, ErrSubmitInFlight
	}
	f := SelectedFile{Name: filepath.Base(path), Path: path, Size: fi.Size()}
	s.file = &f
	s.result = nil
	s.err = nil
	s.state = StateFileSelected
	return f, nil
}

// Submit uploads the selected file. A second call while the first is still
// running returns ErrSubmitInFlight without contacting the relay.
func (s *Session) Submit(ctx context.Context) (*domain.InspectResponse, error) {
	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if s.file == nil {
		s.mu.Unlock()
		return nil, ErrNoFileSelected
	}
	path := s.file.Path
	s.state = StateSubmitting
	s.result = nil
	s.err = nil
	s.mu.Unlock()

	res, err := s.sub.Inspect(ctx, path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.err = err
		return nil, err
	}
	s.state = StateSucceeded
	s.result = res
	return res, nil
}

// Reset returns to Idle. It is refused while a submission is running.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return ErrSubmitInFlight
	}
	s.state = StateIdle
	s.file = nil
	s.result = nil
	s.err = nil
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) File() (SelectedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return SelectedFile{}, false
	}
	return *s.file, true
}

func (s *Session) Result() *domain.InspectResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
