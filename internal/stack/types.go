package stack

// Doc is a document stored in the data API. Fields holds the full body as
// returned by the stack, including _id and _rev.
type Doc struct {
	ID     string
	Rev    string
	Type   string
	Fields map[string]any
}

// Index identifies a mango index usable by FindDocs.
type Index struct {
	DocType   string
	Name      string
	DesignDoc string
	Fields    []string
}

// DeleteResult is the outcome of a single DeleteDoc call.
type DeleteResult struct {
	ID      string
	Rev     string
	Deleted bool
}

// File is a file or directory in the virtual file system.
type File struct {
	ID       string
	Rev      string
	Name     string
	Type     string // "file" or "directory"
	DirID    string
	Path     string
	MimeType string
	Size     string // the stack reports sizes as decimal strings
}

// IsDir reports whether f is a directory.
func (f *File) IsDir() bool {
	return f.Type == "directory"
}

// RootDirID is the identifier of the virtual file system root.
const RootDirID = "io.cozy.files.root-dir"
