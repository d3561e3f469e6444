package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// FileOptions describes a file to create with CreateFile.
type FileOptions struct {
	Name        string
	DirID       string // empty means the root directory
	ContentType string // empty lets the stack infer the type
	Size        int64  // -1 when unknown
}

// jsonAPIFile mirrors the JSON:API document returned by the files API.
type jsonAPIFile struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Meta struct {
			Rev string `json:"rev"`
		} `json:"meta"`
		Attributes struct {
			Type  string `json:"type"`
			Name  string `json:"name"`
			DirID string `json:"dir_id"`
			Path  string `json:"path"`
			Mime  string `json:"mime"`
			Size  string `json:"size"`
		} `json:"attributes"`
	} `json:"data"`
}

func (j *jsonAPIFile) toFile() *File {
	return &File{
		ID:       j.Data.ID,
		Rev:      j.Data.Meta.Rev,
		Name:     j.Data.Attributes.Name,
		Type:     j.Data.Attributes.Type,
		DirID:    j.Data.Attributes.DirID,
		Path:     j.Data.Attributes.Path,
		MimeType: j.Data.Attributes.Mime,
		Size:     j.Data.Attributes.Size,
	}
}

// filesPath builds /files/{dirID}?Type=...&Name=... An empty dirID posts to
// /files/ which the stack resolves to the root directory.
func filesPath(dirID, kind, name string) string {
	q := url.Values{}
	q.Set("Type", kind)
	q.Set("Name", name)

	return "/files/" + url.PathEscape(dirID) + "?" + q.Encode()
}

// CreateDirectory creates a directory named name under dirID and returns it
// with its stack-generated identifier.
func (c *Client) CreateDirectory(ctx context.Context, name, dirID string) (*File, error) {
	c.logger.Info("creating directory",
		slog.String("name", name),
		slog.String("dir_id", dirID),
	)

	resp, err := c.Do(ctx, http.MethodPost, filesPath(dirID, "directory", name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeFile(resp.Body, "create directory")
}

// CreateFile streams r into a new file. The request is sent once; a failed
// upload is never replayed because r may be partially consumed.
func (c *Client) CreateFile(ctx context.Context, r io.Reader, opts FileOptions) (*File, error) {
	c.logger.Info("uploading file",
		slog.String("name", opts.Name),
		slog.String("dir_id", opts.DirID),
		slog.String("content_type", opts.ContentType),
		slog.Int64("size", opts.Size),
	)

	resp, err := c.doRaw(ctx, http.MethodPost, filesPath(opts.DirID, "file", opts.Name), opts.ContentType, r, opts.Size)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeFile(resp.Body, "create file")
}

func decodeFile(r io.Reader, op string) (*File, error) {
	var doc jsonAPIFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("stack: decoding %s response: %w", op, err)
	}

	return doc.toFile(), nil
}
