package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// findPageSize is the limit sent with every _find request.
const findPageSize = 100

// maxFindPages stops runaway pagination if the stack keeps answering next=true.
const maxFindPages = 10_000

type createDocResponse struct {
	ID   string         `json:"id"`
	Rev  string         `json:"rev"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type defineIndexRequest struct {
	Index struct {
		Fields []string `json:"fields"`
	} `json:"index"`
}

type defineIndexResponse struct {
	Result string `json:"result"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

type findRequest struct {
	Selector any      `json:"selector"`
	Fields   []string `json:"fields,omitempty"`
	UseIndex string   `json:"use_index,omitempty"`
	Limit    int      `json:"limit"`
	Skip     int      `json:"skip,omitempty"`
}

type findResponse struct {
	Docs []map[string]any `json:"docs"`
	Next bool             `json:"next"`
}

type deleteDocResponse struct {
	ID      string `json:"id"`
	Rev     string `json:"rev"`
	OK      bool   `json:"ok"`
	Deleted bool   `json:"deleted"`
}

// FindQuery describes a mango query for FindDocs.
type FindQuery struct {
	Selector map[string]any
	Fields   []string
}

// ErrEmptyDocType is returned when a data call is made without a doctype.
var ErrEmptyDocType = errors.New("stack: doctype is required")

func dataPath(docType string, rest ...string) string {
	parts := make([]string, 0, len(rest)+2)
	parts = append(parts, "/data", url.PathEscape(docType))

	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}

	return strings.Join(parts, "/")
}

// postJSON marshals body, POSTs it and decodes the answer into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("stack: marshaling request for %s: %w", path, err)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("stack: decoding response from %s: %w", path, err)
	}

	return nil
}

// CreateDoc creates a document of the given doctype. The stack assigns the
// identifier; a brand-new doctype is provisioned lazily on first write.
func (c *Client) CreateDoc(ctx context.Context, docType string, fields map[string]any) (*Doc, error) {
	if docType == "" {
		return nil, ErrEmptyDocType
	}

	if fields == nil {
		fields = map[string]any{}
	}

	c.logger.Debug("creating document", slog.String("doctype", docType))

	var cr createDocResponse
	if err := c.postJSON(ctx, dataPath(docType)+"/", fields, &cr); err != nil {
		return nil, err
	}

	return &Doc{ID: cr.ID, Rev: cr.Rev, Type: docType, Fields: cr.Data}, nil
}

// DefineIndex creates (or finds) a mango index on the given fields.
func (c *Client) DefineIndex(ctx context.Context, docType string, fields []string) (*Index, error) {
	if docType == "" {
		return nil, ErrEmptyDocType
	}

	c.logger.Info("defining index",
		slog.String("doctype", docType),
		slog.Any("fields", fields),
	)

	var req defineIndexRequest
	req.Index.Fields = fields

	var ir defineIndexResponse
	if err := c.postJSON(ctx, dataPath(docType, "_index"), req, &ir); err != nil {
		return nil, err
	}

	return &Index{
		DocType:   docType,
		Name:      ir.Name,
		DesignDoc: ir.ID,
		Fields:    fields,
	}, nil
}

// FindDocs runs a mango query against index, following pagination until the
// stack reports no further pages.
func (c *Client) FindDocs(ctx context.Context, index *Index, q FindQuery) ([]Doc, error) {
	if index == nil || index.DocType == "" {
		return nil, ErrEmptyDocType
	}

	path := dataPath(index.DocType, "_find")
	useIndex := strings.TrimPrefix(index.DesignDoc, "_design/")

	var docs []Doc

	for page := 0; page < maxFindPages; page++ {
		req := findRequest{
			Selector: q.Selector,
			Fields:   q.Fields,
			UseIndex: useIndex,
			Limit:    findPageSize,
			Skip:     len(docs),
		}

		var fr findResponse
		if err := c.postJSON(ctx, path, req, &fr); err != nil {
			return nil, err
		}

		for _, raw := range fr.Docs {
			docs = append(docs, docFromMap(index.DocType, raw))
		}

		c.logger.Debug("fetched query page",
			slog.String("doctype", index.DocType),
			slog.Int("page", page+1),
			slog.Int("count", len(fr.Docs)),
		)

		if !fr.Next || len(fr.Docs) == 0 {
			return docs, nil
		}
	}

	return nil, fmt.Errorf("stack: query on %s exceeded %d pages", index.DocType, maxFindPages)
}

// DeleteDoc deletes one revision of a document.
func (c *Client) DeleteDoc(ctx context.Context, docType, id, rev string) (*DeleteResult, error) {
	if docType == "" {
		return nil, ErrEmptyDocType
	}

	path := dataPath(docType, id) + "?rev=" + url.QueryEscape(rev)

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deleteDocResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("stack: decoding delete response: %w", err)
	}

	// Drain trailing bytes so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain

	return &DeleteResult{ID: dr.ID, Rev: dr.Rev, Deleted: dr.Deleted}, nil
}

func docFromMap(docType string, raw map[string]any) Doc {
	d := Doc{Type: docType, Fields: raw}

	if id, ok := raw["_id"].(string); ok {
		d.ID = id
	}

	if rev, ok := raw["_rev"].(string); ok {
		d.Rev = rev
	}

	return d
}
