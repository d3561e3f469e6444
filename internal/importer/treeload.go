package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultExcludes are skipped when walking a local directory unless the
// caller supplies its own patterns.
var DefaultExcludes = []string{
	"**/.git",
	"**/__pycache__",
	"**/.DS_Store",
	"**/.env",
	"**/venv",
	"**/node_modules",
}

// LoadTree reads a directory tree description (the directory-tree format:
// nested {name, path, extension, children} objects). Files ending in .yaml
// or .yml are decoded as YAML, anything else as JSON. Relative file paths
// are used as written, relative to the working directory.
func LoadTree(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: reading tree description: %w", err)
	}

	var root Node

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &root)
	default:
		err = json.Unmarshal(data, &root)
	}

	if err != nil {
		return nil, fmt.Errorf("importer: parsing %s: %w", path, err)
	}

	if root.Name == "" {
		return nil, fmt.Errorf("importer: %s: tree root has no name", path)
	}

	if !root.IsFolder() {
		return nil, fmt.Errorf("importer: %s: tree root %q is not a folder", path, root.Name)
	}

	return &root, nil
}

// BuildTree walks dir into a tree description. Entries whose slash-separated
// path relative to dir matches any exclude pattern (doublestar syntax) are
// skipped along with their contents. A nil excludes means DefaultExcludes.
// Only directories and regular files are included; symlinks and special
// files are ignored.
func BuildTree(dir string, excludes []string) (*Node, error) {
	if excludes == nil {
		excludes = DefaultExcludes
	}

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("importer: invalid exclude pattern %q", pattern)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("importer: resolving %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("importer: %s is not a directory", dir)
	}

	w := treeWalker{root: abs, excludes: excludes}

	root := &Node{Name: filepath.Base(abs), Path: abs, Type: "directory"}

	root.Children, err = w.walk(abs, "")
	if err != nil {
		return nil, err
	}

	return root, nil
}

type treeWalker struct {
	root     string
	excludes []string
}

func (w treeWalker) walk(dir, rel string) ([]*Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("importer: reading %s: %w", dir, err)
	}

	children := make([]*Node, 0, len(entries))

	for _, e := range entries {
		childRel := e.Name()
		if rel != "" {
			childRel = rel + "/" + e.Name()
		}

		if w.excluded(childRel) {
			continue
		}

		full := filepath.Join(dir, e.Name())

		switch {
		case e.IsDir():
			sub, err := w.walk(full, childRel)
			if err != nil {
				return nil, err
			}

			children = append(children, &Node{
				Name:     e.Name(),
				Path:     full,
				Type:     "directory",
				Children: sub,
			})
		case e.Type().IsRegular():
			info, err := e.Info()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}

				return nil, fmt.Errorf("importer: stat %s: %w", full, err)
			}

			children = append(children, &Node{
				Name:      e.Name(),
				Path:      full,
				Extension: filepath.Ext(e.Name()),
				Type:      "file",
				Size:      info.Size(),
			})
		}
	}

	return children, nil
}

func (w treeWalker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok { //nolint:errcheck // patterns validated up front
			return true
		}
	}

	return false
}
