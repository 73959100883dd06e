package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Rejection outcomes. The handler maps each to its own 4xx; expired and
// forged signatures deliberately share one outcome so responses leak
// nothing useful to a forger.
var (
	ErrMalformed    = errors.New("malformed download request")
	ErrUnauthorized = errors.New("invalid or expired download grant")
	ErrNotFound     = errors.New("download not found")
	ErrLimited      = errors.New("download rate limit exceeded")
)

var (
	slugNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Service authorizes and resolves signed download requests.
type Service struct {
	signer  *Signer
	limiter *FixedWindow
	baseDir string
	allow   []string // doublestar patterns; empty allows everything
	now     func() time.Time
}

// ServiceConfig assembles a download service.
type ServiceConfig struct {
	Secret  []byte
	BaseDir string
	Allow   []string
	Limit   int
	Window  time.Duration
	Now     func() time.Time
}

// NewService creates the download service. BaseDir is canonicalized once
// so later prefix checks compare like with like.
func NewService(cfg ServiceConfig) (*Service, error) {
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download base dir: %w", err)
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		signer:  NewSigner(cfg.Secret),
		limiter: NewFixedWindow(cfg.Limit, cfg.Window),
		baseDir: base,
		allow:   cfg.Allow,
		now:     nowFn,
	}, nil
}

// Signer exposes the issuer side for link generation.
func (s *Service) Signer() *Signer { return s.signer }

// Resolve authorizes one download request and returns the absolute file
// path to serve. Each rejection class keeps its own error so the
// handler can answer 400/401/404/429 distinctly.
func (s *Service) Resolve(ip, slug, filename, expStr, sigHex string) (string, error) {
	if !slugNamePattern.MatchString(slug) || !validFilename(filename) {
		return "", ErrMalformed
	}

	if !s.limiter.Allow(ip) {
		return "", ErrLimited
	}

	expiry, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrMalformed
	}

	// Expiry is rejected before the signature is even examined, so an
	// expired link fails regardless of signature validity.
	if s.now().Unix() > expiry {
		return "", ErrUnauthorized
	}
	if !s.signer.Verify(slug, filename, expiry, sigHex) {
		return "", ErrUnauthorized
	}

	if len(s.allow) > 0 && !s.allowed(filename) {
		return "", ErrMalformed
	}

	path, err := s.resolvePath(slug, filename)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// List returns the attachment filenames available for a slug, filtered
// through the same name hygiene and allowlist as Resolve. Used to build
// signed links on demo pages.
func (s *Service) List(slug string) []string {
	if !slugNamePattern.MatchString(slug) {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, slug))
	if err != nil {
		return nil
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !validFilename(name) {
			continue
		}
		if len(s.allow) > 0 && !s.allowed(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (s *Service) allowed(filename string) bool {
	for _, pattern := range s.allow {
		if ok, err := doublestar.Match(pattern, filename); err == nil && ok {
			return true
		}
	}
	return false
}

// resolvePath joins and canonicalizes, then verifies the result never
// escapes the base directory.
func (s *Service) resolvePath(slug, filename string) (string, error) {
	joined := filepath.Join(s.baseDir, slug, filename)
	abs, err := filepath.Abs(filepath.Clean(joined))
	if err != nil {
		return "", ErrMalformed
	}
	if !strings.HasPrefix(abs, s.baseDir+string(filepath.Separator)) {
		return "", ErrMalformed
	}
	return abs, nil
}

func validFilename(name string) bool {
	return fileNamePattern.MatchString(name) && !strings.Contains(name, "..")
}
