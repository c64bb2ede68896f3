package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/penwyp/go-claude-stream/internal/core/model"
)

// Resolver maps transcript file paths to logical projects. The project
// directory name beneath the monitored root encodes the original working
// directory with every path separator substituted by a dash; decoding is
// deterministic, so the same encoded segment resolves to the same project
// across restarts.
type Resolver struct {
	root string

	mu       sync.RWMutex
	projects map[string]*model.Project
}

// NewResolver creates a Resolver for files beneath root.
func NewResolver(root string) *Resolver {
	return &Resolver{
		root:     root,
		projects: make(map[string]*model.Project),
	}
}

// Resolve returns the project owning filePath, creating it on first sight.
func (r *Resolver) Resolve(filePath string, now time.Time) (*model.Project, error) {
	encoded, err := r.encodedSegment(filePath)
	if err != nil {
		return nil, err
	}

	decoded := DecodePath(encoded)

	r.mu.Lock()
	defer r.mu.Unlock()

	if proj, ok := r.projects[decoded]; ok {
		return proj, nil
	}

	proj := &model.Project{
		Path:      decoded,
		Name:      DisplayName(decoded),
		CreatedAt: now,
	}
	r.projects[decoded] = proj
	return proj, nil
}

// Touch records activity on a project.
func (r *Resolver) Touch(proj *model.Project, at time.Time, conversations, messages int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if at.After(proj.LastActivity) {
		proj.LastActivity = at
	}
	proj.Conversations += conversations
	proj.Messages += messages
}

// Snapshot returns a copy of the project for safe publication.
func (r *Resolver) Snapshot(proj *model.Project) *model.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := *proj
	return &out
}

// Projects returns copies of all known projects.
func (r *Resolver) Projects() []*model.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Project, 0, len(r.projects))
	for _, proj := range r.projects {
		c := *proj
		out = append(out, &c)
	}
	return out
}

// encodedSegment extracts the first path component beneath the root.
func (r *Resolver) encodedSegment(filePath string) (string, error) {
	rel, err := filepath.Rel(r.root, filePath)
	if err != nil {
		return "", fmt.Errorf("path %s is not beneath root %s: %w", filePath, r.root, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is not beneath root %s", filePath, r.root)
	}

	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return "", fmt.Errorf("path %s has no project directory beneath root", filePath)
	}
	return parts[0], nil
}

// DecodePath reverses the separator substitution of an encoded project
// directory name, e.g. "-Users-alice-dev-app" -> "/Users/alice/dev/app".
func DecodePath(encoded string) string {
	if encoded == "" {
		return ""
	}
	return strings.ReplaceAll(encoded, "-", "/")
}

// DisplayName derives a human-friendly name from a decoded project path by
// title-casing the words of its last segment.
func DisplayName(decodedPath string) string {
	base := decodedPath[strings.LastIndex(decodedPath, "/")+1:]
	if base == "" {
		return decodedPath
	}

	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '.' || r == ' '
	})
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return base
	}
	return strings.Join(words, " ")
}
