// Package frameworks is the persistence facade over framework
// definitions: one JSON file per framework under a directory. The
// engine depends on ReadFramework only; the rest is a thin CRUD
// pass-through for outer surfaces.
package frameworks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/stepflow/stepflow/pkg/engine"
	"github.com/stepflow/stepflow/pkg/messages"
)

// ConfigError is a configuration failure for a framework: absent file,
// malformed JSON, or schema violations. Validation findings are carried
// as structured detail and preserved on emitted error messages.
type ConfigError struct {
	FrameworkID string
	Err         error
	Violations  []messages.FieldViolation
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("framework %s: %v", e.FrameworkID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationDetail implements messages.Validated.
func (e *ConfigError) ValidationDetail() []messages.FieldViolation {
	return e.Violations
}

// Service stores framework definitions as <id>.json files under Dir.
type Service struct {
	dir      string
	validate *validator.Validate

	mu    sync.RWMutex
	cache map[string]*engine.Framework
}

// NewService creates a service over dir, creating it if needed.
func NewService(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create framework directory: %w", err)
	}
	return &Service{
		dir:      dir,
		validate: validator.New(),
		cache:    make(map[string]*engine.Framework),
	}, nil
}

// GetAllFrameworkNames returns a mapping of framework id to name for
// every definition in the directory. Unreadable definitions are skipped
// with a warning rather than failing the listing.
func (s *Service) GetAllFrameworkNames(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read framework directory: %w", err)
	}

	names := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		fw, err := s.ReadFramework(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("framework", id).Msg("skipping unreadable framework")
			continue
		}
		names[id] = fw.Name
	}
	return names, nil
}

// ReadFramework loads and validates the definition for id. Failures are
// returned as a ConfigError carrying the framework id and, for schema
// violations, structured detail.
func (s *Service) ReadFramework(_ context.Context, id string) (*engine.Framework, error) {
	s.mu.RLock()
	if fw, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return fw, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, &ConfigError{FrameworkID: id, Err: err}
	}

	var fw engine.Framework
	if err := json.Unmarshal(data, &fw); err != nil {
		return nil, &ConfigError{FrameworkID: id, Err: fmt.Errorf("malformed definition: %w", err)}
	}
	fw.ID = id

	if err := s.validate.Struct(&fw); err != nil {
		return nil, &ConfigError{
			FrameworkID: id,
			Err:         fmt.Errorf("invalid definition: %w", err),
			Violations:  violations(err),
		}
	}

	s.mu.Lock()
	s.cache[id] = &fw
	s.mu.Unlock()

	return &fw, nil
}

// WriteFramework validates and persists the definition under id,
// atomically replacing any existing file.
func (s *Service) WriteFramework(_ context.Context, id string, fw *engine.Framework) error {
	fw.ID = id
	if err := s.validate.Struct(fw); err != nil {
		return &ConfigError{
			FrameworkID: id,
			Err:         fmt.Errorf("invalid definition: %w", err),
			Violations:  violations(err),
		}
	}

	data, err := json.MarshalIndent(fw, "", "  ")
	if err != nil {
		return &ConfigError{FrameworkID: id, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".fw-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write framework: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(id)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace framework: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = fw
	s.mu.Unlock()

	return nil
}

// DeleteFramework removes the definition for id.
func (s *Service) DeleteFramework(_ context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ConfigError{FrameworkID: id, Err: err}
		}
		return fmt.Errorf("failed to delete framework: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()

	return nil
}

func (s *Service) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// invalidate drops a cached definition after its file changed on disk.
func (s *Service) invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

// violations converts validator errors into structured detail.
func violations(err error) []messages.FieldViolation {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]messages.FieldViolation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, messages.FieldViolation{
			Field:  fe.Namespace(),
			Rule:   fe.Tag(),
			Detail: fe.Error(),
		})
	}
	return out
}

var _ engine.FrameworkReader = (*Service)(nil)
