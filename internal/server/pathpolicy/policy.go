// Package pathpolicy turns client supplied file names into storage names
// that can never leave the receiver's output root.
package pathpolicy

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/shared"
)

type Mode string

const (
	ModeSanitize   Mode = "sanitize"
	ModeAllowPaths Mode = "allow-paths"
	ModeIgnore     Mode = "ignore"
)

// MaxNameLength is the longest name generated in ignore mode.
const MaxNameLength = 255

var (
	// ErrInvalidName is returned for names that are rejected outright.
	ErrInvalidName = fmt.Errorf("%w: invalid file name", common.ErrPathSecurity)
	// ErrOutsideRoot is returned when a name resolves outside the root.
	ErrOutsideRoot = fmt.Errorf("%w: path escapes output directory", common.ErrPathSecurity)
	// ErrNameCollision is returned in sanitize mode when the name is taken.
	ErrNameCollision = fmt.Errorf("%w: file already exists", common.ErrPathSecurity)
)

// ParseMode accepts the three mode names.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(strings.ToLower(s))); m {
	case ModeSanitize, ModeAllowPaths, ModeIgnore:
		return m, nil
	}
	return "", fmt.Errorf("unknown path mode %q (want sanitize, allow-paths or ignore)", s)
}

// Policy resolves names relative to Root. Exists reports whether a resolved
// name is already taken; when nil the filesystem under Root is checked.
type Policy struct {
	Mode   Mode
	Root   string
	Exists func(name string) (bool, error)

	now    func() time.Time
	random func() (string, error)
}

func New(mode Mode, root string) *Policy {
	return &Policy{Mode: mode, Root: root}
}

// Resolve returns the slash separated storage name for clientName.
func (p *Policy) Resolve(clientName string) (string, error) {
	if strings.ContainsRune(clientName, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, clientName)
	}

	switch p.Mode {
	case ModeAllowPaths:
		return p.allowPaths(clientName)
	case ModeIgnore:
		return p.ignore(clientName)
	case ModeSanitize, "":
		return p.sanitize(clientName)
	default:
		return "", fmt.Errorf("unknown path mode %q", p.Mode)
	}
}

func stripDotPrefix(s string) string {
	for _, prefix := range []string{"./", ".\\"} {
		s = strings.TrimPrefix(s, prefix)
	}
	return s
}

func isAbsolute(s string) bool {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "\\") {
		return true
	}
	// windows drive letter
	return len(s) > 1 && s[1] == ':'
}

func (p *Policy) sanitize(clientName string) (string, error) {
	name := stripDotPrefix(strings.TrimSpace(clientName))

	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || isAbsolute(clientName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, clientName)
	}

	if err := p.checkInside(name); err != nil {
		return "", err
	}

	taken, err := p.exists(name)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("%w: %q", ErrNameCollision, name)
	}
	return name, nil
}

func (p *Policy) allowPaths(clientName string) (string, error) {
	name := stripDotPrefix(strings.TrimSpace(clientName))

	if name == "" || isAbsolute(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, clientName)
	}

	name = strings.ReplaceAll(name, `\`, "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, clientName)
		}
	}

	name = path.Clean(name)
	if name == "." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, clientName)
	}

	if err := p.checkInside(name); err != nil {
		return "", err
	}
	return name, nil
}

func (p *Policy) ignore(clientName string) (string, error) {
	flat := stripDotPrefix(clientName)
	flat = strings.NewReplacer("/", "_", `\`, "_").Replace(flat)

	ext := safeChars(path.Ext(flat))
	stem := safeChars(strings.TrimSuffix(flat, path.Ext(flat)))

	random := p.random
	if random == nil {
		random = func() (string, error) { return shared.MakeRandHexString(4) }
	}
	rnd, err := random()
	if err != nil {
		return "", err
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}

	prefix := fmt.Sprintf("%d_%s_", now().UnixMilli(), rnd)
	if room := MaxNameLength - len(prefix) - len(ext); len(stem) > room {
		if room < 0 {
			room = 0
		}
		stem = stem[:room]
	}
	name := prefix + stem + ext
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name, nil
}

// safeChars keeps ASCII letters, digits, dot, underscore and dash.
func safeChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (p *Policy) exists(name string) (bool, error) {
	if p.Exists != nil {
		return p.Exists(name)
	}
	_, err := os.Stat(filepath.Join(p.Root, filepath.FromSlash(name)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
}

// checkInside verifies that name stays under Root, following any symlinks
// in the part of the path that already exists.
func (p *Policy) checkInside(name string) error {
	if p.Root == "" {
		return nil
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return err
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	resolved := resolveExisting(target)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return nil
}

// resolveExisting evaluates symlinks of the deepest existing ancestor of
// target and re-appends the missing tail.
func resolveExisting(target string) string {
	tail := ""
	cur := target
	for {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(r, tail)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return target
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}
