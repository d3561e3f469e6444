package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/cozy-ach/internal/stack"
)

// FilesCollection is the journal collection for uploaded tree nodes.
const FilesCollection = "io.cozy.files"

// Node is one entry of a directory tree description. A node is a folder when
// Type is "directory" or Children is non-nil; an empty children list still
// denotes a folder.
type Node struct {
	Name      string  `json:"name" yaml:"name"`
	Path      string  `json:"path,omitempty" yaml:"path,omitempty"`
	Extension string  `json:"extension,omitempty" yaml:"extension,omitempty"`
	Type      string  `json:"type,omitempty" yaml:"type,omitempty"`
	Size      int64   `json:"size,omitempty" yaml:"size,omitempty"`
	Children  []*Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool {
	return n.Type == "directory" || n.Children != nil
}

// ext returns the node's extension, falling back to the name's suffix.
func (n *Node) ext() string {
	if n.Extension != "" {
		return n.Extension
	}

	return filepath.Ext(n.Name)
}

// ContentType maps a file extension (with or without the leading dot, any
// case) to the content type sent with the upload. Unknown extensions map to
// "" so the stack decides.
func ContentType(ext string) string {
	e := strings.ToLower(strings.TrimPrefix(ext, "."))

	switch e {
	case "jpg", "jpeg", "gif", "png", "tiff":
		return "image/" + e
	case "pdf":
		return "application/pdf"
	default:
		return ""
	}
}

// NodeError is a contained failure of one tree node.
type NodeError struct {
	Path string // slash-separated location below the tree root
	Err  error
}

func (e NodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e NodeError) Unwrap() error {
	return e.Err
}

// TreeReport summarizes a tree upload.
type TreeReport struct {
	Root    string
	Folders int
	Files   int
	Errors  []NodeError
}

// Failed reports whether any node failed.
func (r *TreeReport) Failed() bool {
	return len(r.Errors) > 0
}

// Summary is the completion line, "<root> content imported".
func (r *TreeReport) Summary() string {
	return r.Root + " content imported"
}

// TreeUploader mirrors a local tree into the stack's file system. A folder is
// created before anything inside it; siblings go up in parallel. The number
// of in-flight requests is bounded by a semaphore held only around single
// requests, so deep trees cannot starve themselves.
type TreeUploader struct {
	creator TreeCreator
	opts    Options
	sem     *semaphore.Weighted
}

// NewTreeUploader creates a TreeUploader writing through creator.
func NewTreeUploader(creator TreeCreator, opts Options) *TreeUploader {
	opts = opts.withDefaults()

	return &TreeUploader{
		creator: creator,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Parallel)),
	}
}

// treeRun is the mutable state of one Upload call.
type treeRun struct {
	u      *TreeUploader
	mu     sync.Mutex
	report *TreeReport
}

// Upload uploads root's children into the stack's root directory and
// returns once every branch has settled. root itself is not created.
func (u *TreeUploader) Upload(ctx context.Context, root *Node) *TreeReport {
	run := &treeRun{u: u, report: &TreeReport{Root: root.Name}}

	u.opts.Logger.Info("uploading tree",
		slog.String("root", root.Name),
		slog.Int("entries", len(root.Children)),
	)

	run.uploadChildren(ctx, root.Children, "", "")

	u.opts.Logger.Info("tree upload finished",
		slog.String("root", root.Name),
		slog.Int("folders", run.report.Folders),
		slog.Int("files", run.report.Files),
		slog.Int("failed", len(run.report.Errors)),
	)

	return run.report
}

func (r *treeRun) uploadChildren(ctx context.Context, children []*Node, dirID, prefix string) {
	var g errgroup.Group

	for _, child := range children {
		g.Go(func() error {
			r.uploadNode(ctx, child, dirID, prefix)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // node failures are recorded in the report
}

func (r *treeRun) uploadNode(ctx context.Context, n *Node, dirID, prefix string) {
	if n == nil {
		return
	}

	name := norm.NFC.String(n.Name)
	rel := path.Join(prefix, name)

	if name == "" {
		r.fail(rel, errors.New("node has no name"))
		return
	}

	if n.IsFolder() {
		dir, err := r.createDirectory(ctx, name, dirID)
		if err != nil {
			r.fail(rel, err)
			return
		}

		r.u.opts.Journal.RecordCreated(ctx, FilesCollection, rel, dir.ID, dir.Rev)
		r.count(true)
		r.uploadChildren(ctx, n.Children, dir.ID, rel)

		return
	}

	f, err := r.uploadFile(ctx, n, name, dirID)
	if err != nil {
		r.fail(rel, err)
		return
	}

	r.u.opts.Journal.RecordCreated(ctx, FilesCollection, rel, f.ID, f.Rev)
	r.count(false)
}

func (r *treeRun) createDirectory(ctx context.Context, name, dirID string) (*stack.File, error) {
	if err := r.u.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.u.sem.Release(1)

	return r.u.creator.CreateDirectory(ctx, name, dirID)
}

func (r *treeRun) uploadFile(ctx context.Context, n *Node, name, dirID string) (*stack.File, error) {
	if n.Path == "" {
		return nil, errors.New("file node has no local path")
	}

	if err := r.u.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.u.sem.Release(1)

	f, err := os.Open(n.Path)
	if err != nil {
		return nil, fmt.Errorf("importer: opening %s: %w", n.Path, err)
	}
	defer f.Close()

	size := int64(-1)
	if info, statErr := f.Stat(); statErr == nil && info.Mode().IsRegular() {
		size = info.Size()
	}

	return r.u.creator.CreateFile(ctx, f, stack.FileOptions{
		Name:        name,
		DirID:       dirID,
		ContentType: ContentType(n.ext()),
		Size:        size,
	})
}

func (r *treeRun) count(folder bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if folder {
		r.report.Folders++
	} else {
		r.report.Files++
	}
}

func (r *treeRun) fail(rel string, err error) {
	r.u.opts.Logger.Warn("tree node failed",
		slog.String("path", rel),
		slog.String("error", Describe(err)),
	)

	r.mu.Lock()
	r.report.Errors = append(r.report.Errors, NodeError{Path: rel, Err: err})
	r.mu.Unlock()
}
