package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cozy-ach/internal/stack"
)

// docEvent is one observed create call.
type docEvent struct {
	docType string
	name    any
	phase   string // "start" or "end"
}

// fakeDocs is a DocCreator that records call order and can fail selected
// records by name.
type fakeDocs struct {
	mu     sync.Mutex
	events []docEvent
	failOn map[string]error
	seq    atomic.Int64

	// hook runs between start and end of every create.
	hook func(docType string, rec map[string]any)
}

func (f *fakeDocs) log(e docEvent) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeDocs) CreateDoc(_ context.Context, docType string, fields map[string]any) (*stack.Doc, error) {
	f.log(docEvent{docType: docType, name: fields["name"], phase: "start"})
	defer f.log(docEvent{docType: docType, name: fields["name"], phase: "end"})

	if f.hook != nil {
		f.hook(docType, fields)
	}

	if name, ok := fields["name"].(string); ok {
		if err := f.failOn[docType+"/"+name]; err != nil {
			return nil, err
		}
	}

	n := f.seq.Add(1)

	return &stack.Doc{ID: fmt.Sprintf("id-%d", n), Rev: "1-x", Type: docType}, nil
}

func (f *fakeDocs) eventsFor(docType string) []docEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []docEvent

	for _, e := range f.events {
		if e.docType == docType {
			out = append(out, e)
		}
	}

	return out
}

// recordingJournal collects RecordCreated calls.
type recordingJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *recordingJournal) RecordCreated(_ context.Context, collection, name, remoteID, _ string) {
	j.mu.Lock()
	j.entries = append(j.entries, collection+"|"+name+"|"+remoteID)
	j.mu.Unlock()
}

func recordsNamed(names ...string) []Record {
	out := make([]Record, 0, len(names))
	for _, n := range names {
		out = append(out, Record{"name": n})
	}

	return out
}

// assertBootstrapFirst checks that the first record's create finished before
// any other create of the doctype started.
func assertBootstrapFirst(t *testing.T, events []docEvent, bootstrap string) {
	t.Helper()

	require.NotEmpty(t, events)
	assert.Equal(t, docEvent{name: bootstrap, phase: "start", docType: events[0].docType}, events[0])
	assert.Equal(t, docEvent{name: bootstrap, phase: "end", docType: events[0].docType}, events[1])
}

func TestImport_BootstrapThenFanOut(t *testing.T) {
	var inFlight, peak atomic.Int32

	release := make(chan struct{})

	fake := &fakeDocs{}
	fake.hook = func(_ string, rec map[string]any) {
		if rec["name"] == "A" {
			return
		}

		// B and C must be in flight together.
		if n := inFlight.Add(1); n == 2 {
			close(release)
		}

		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}

		if n := inFlight.Load(); n > peak.Load() {
			peak.Store(n)
		}

		inFlight.Add(-1)
	}

	imp := NewDocImporter(fake, Options{Parallel: 4})
	report := imp.Import(context.Background(), []RecordSet{
		{DocType: "contact", Records: recordsNamed("A", "B", "C")},
	})

	require.Len(t, report.Types, 1)
	res := report.Types[0]

	require.NoError(t, res.Err())
	assert.Equal(t, "Imported 3 contact documents", res.Summary())
	assert.Len(t, res.IDs(), 3)
	assert.Equal(t, "id-1", res.IDs()[0], "bootstrap ref comes first")
	assert.Equal(t, int32(2), peak.Load(), "fan-out creates run in parallel")

	events := fake.eventsFor("contact")
	require.Len(t, events, 6)
	assertBootstrapFirst(t, events, "A")
}

func TestImport_BootstrapFailureSkipsFanOutOnly(t *testing.T) {
	fake := &fakeDocs{failOn: map[string]error{
		"io.cozy.broken/first": &stack.RemoteError{StatusCode: http.StatusBadRequest, Reason: "bad", Err: stack.ErrBadRequest},
	}}

	journal := &recordingJournal{}
	imp := NewDocImporter(fake, Options{Journal: journal})

	report := imp.Import(context.Background(), []RecordSet{
		{DocType: "io.cozy.broken", Records: recordsNamed("first", "second", "third")},
		{DocType: "io.cozy.fine", Records: recordsNamed("x", "y")},
	})

	require.True(t, report.Failed())

	broken := report.Types[0]
	require.Error(t, broken.BootstrapErr)
	require.ErrorIs(t, broken.Err(), stack.ErrBadRequest)
	assert.Empty(t, broken.Created)
	assert.Len(t, fake.eventsFor("io.cozy.broken"), 2, "only the bootstrap create was attempted")

	fine := report.Types[1]
	require.NoError(t, fine.Err())
	assert.Len(t, fine.Created, 2)

	assert.Equal(t, 2, report.Created())
	assert.Len(t, journal.entries, 2)

	for _, e := range journal.entries {
		assert.True(t, strings.HasPrefix(e, "io.cozy.fine||id-"), e)
	}
}

func TestImport_FanOutFailuresKeepSuccesses(t *testing.T) {
	fake := &fakeDocs{failOn: map[string]error{
		"notes/b": &stack.RemoteError{StatusCode: http.StatusForbidden, Err: stack.ErrForbidden},
	}}

	report := NewDocImporter(fake, Options{}).Import(context.Background(), []RecordSet{
		{DocType: "notes", Records: recordsNamed("a", "b", "c")},
	})

	res := report.Types[0]
	assert.NoError(t, res.BootstrapErr)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], stack.ErrForbidden)
	assert.Equal(t, ForbiddenHint, Describe(res.Failures[0]))
	assert.Len(t, res.Created, 2)
	assert.Equal(t, "Imported 2 notes documents", res.Summary())
	assert.True(t, report.Failed())
}

func TestImport_EmptyRecordSet(t *testing.T) {
	fake := &fakeDocs{}

	report := NewDocImporter(fake, Options{}).Import(context.Background(), []RecordSet{
		{DocType: "empty"},
	})

	require.Len(t, report.Types, 1)
	assert.NoError(t, report.Types[0].Err())
	assert.Empty(t, report.Types[0].Created)
	assert.Empty(t, fake.eventsFor("empty"))
	assert.False(t, report.Failed())
}

func TestImport_SingularSummary(t *testing.T) {
	report := NewDocImporter(&fakeDocs{}, Options{}).Import(context.Background(), []RecordSet{
		{DocType: "io.cozy.todos", Records: recordsNamed("only")},
	})

	assert.Equal(t, "Imported 1 io.cozy.todos document", report.Types[0].Summary())
}

func TestImport_DoesNotMutateInput(t *testing.T) {
	records := recordsNamed("A", "B", "C")
	sets := []RecordSet{{DocType: "contact", Records: records}}

	NewDocImporter(&fakeDocs{}, Options{}).Import(context.Background(), sets)

	assert.Len(t, sets[0].Records, 3)
	assert.Equal(t, "A", sets[0].Records[0]["name"])
}

func TestImport_ManyTypesEachBootstrapFirst(t *testing.T) {
	fake := &fakeDocs{}

	var sets []RecordSet

	for i := range 5 {
		sets = append(sets, RecordSet{
			DocType: fmt.Sprintf("type%d", i),
			Records: recordsNamed("boot", "r1", "r2", "r3", "r4"),
		})
	}

	report := NewDocImporter(fake, Options{Parallel: 2}).Import(context.Background(), sets)
	assert.False(t, report.Failed())
	assert.Equal(t, 25, report.Created())

	for _, s := range sets {
		assertBootstrapFirst(t, fake.eventsFor(s.DocType), "boot")
	}
}

// The contact scenario end to end through a real client against a fake
// data API.
func TestImport_ContactScenarioOverHTTP(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
		n     atomic.Int32
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/contact/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		order = append(order, body["name"].(string))
		mu.Unlock()

		id := n.Add(1)
		_, _ = fmt.Fprintf(w, `{"id":"c%d","rev":"1-r","type":"contact","data":{}}`, id)
	}))
	defer srv.Close()

	client := stack.NewClient(srv.URL, nil, stack.StaticToken("tok"), nil, "")

	report := NewDocImporter(client, Options{}).Import(context.Background(), []RecordSet{
		{DocType: "contact", Records: recordsNamed("A", "B", "C")},
	})

	res := report.Types[0]
	require.NoError(t, res.Err())
	assert.Equal(t, "Imported 3 contact documents", res.Summary())
	assert.Equal(t, "c1", res.Created[0].ID)
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, res.IDs())

	require.Len(t, order, 3)
	assert.Equal(t, "A", order[0])
	assert.ElementsMatch(t, []string{"B", "C"}, order[1:])
}
