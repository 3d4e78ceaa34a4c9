package archive

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/replaygeo/geometry"
	"github.com/hazyhaar/replaygeo/session"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testSession(t *testing.T, id string, startedAt int64) *session.Session {
	t.Helper()
	s, err := session.Parse([]byte(`{"sessionId":"` + id + `","startedAt":1000,"events":[
		{"type":4,"timestamp":1000,"data":{"href":"https://example.test/","width":800,"height":600}},
		{"type":3,"timestamp":1500,"data":{"source":0,"adds":[],"removes":[],"texts":[],"attributes":[],"extra":true}},
		{"type":5,"timestamp":2000,"data":{"tag":"route","payload":{"pathname":"/a"}}}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	s.StartedAt = startedAt
	return s
}

func TestSaveLoadSession_RoundTrip(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	s := testSession(t, "s1", 1000)

	if err := a.SaveSession(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := a.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want, _ := s.MarshalIndent()
	have, _ := got.MarshalIndent()
	if !bytes.Equal(want, have) {
		t.Fatalf("round trip differs:\n%s\n---\n%s", want, have)
	}
}

func TestSaveSession_Upsert(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	s := testSession(t, "s1", 1000)
	if err := a.SaveSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.Events = s.Events[:1]
	if err := a.SaveSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	list, err := a.ListSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("sessions: got %d, want 1", len(list))
	}
	if list[0].EventCount != 1 {
		t.Errorf("EventCount: got %d, want 1", list[0].EventCount)
	}
	if list[0].FirstTS != 1000 || list[0].LastTS != 1000 {
		t.Errorf("range: got %d..%d", list[0].FirstTS, list[0].LastTS)
	}
}

func TestLoadSession_NotFound(t *testing.T) {
	a := openTest(t)
	_, err := a.LoadSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: got %v, want ErrNotFound", err)
	}
}

func TestListSessions_OrderAndLimit(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	for i, id := range []string{"old", "new", "mid"} {
		if err := a.SaveSession(ctx, testSession(t, id, []int64{100, 300, 200}[i])); err != nil {
			t.Fatal(err)
		}
	}

	list, err := a.ListSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "mid" {
		t.Fatalf("list: got %+v", list)
	}
}

func TestGeometry_SaveAndLatest(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	clock := time.UnixMilli(5000)
	a.now = func() time.Time { return clock }

	if err := a.SaveSession(ctx, testSession(t, "s1", 1000)); err != nil {
		t.Fatal(err)
	}

	first := &geometry.Output{SessionID: "s1", OriginalRecording: "session-s1.json", Snapshots: []geometry.Snapshot{
		{Timestamp: 1000, Elements: []geometry.Element{}},
	}}
	if _, err := a.SaveGeometry(ctx, first, 500); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Second)
	second := &geometry.Output{SessionID: "s1", OriginalRecording: "session-s1.json", Snapshots: []geometry.Snapshot{
		{Timestamp: 1000, Elements: []geometry.Element{}},
		{Timestamp: 1250, OffsetMs: 250, Elements: []geometry.Element{{NodeID: 4, Tag: "div", Width: 10, Height: 5, Visible: true}}},
	}}
	id, err := a.SaveGeometry(ctx, second, 250)
	if err != nil {
		t.Fatal(err)
	}

	run, err := a.LatestGeometry(ctx, "s1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if run.ID != id || run.StepMs != 250 || run.SnapshotCount != 2 {
		t.Fatalf("run: got %+v", run)
	}
	if len(run.Output.Snapshots) != 2 || run.Output.Snapshots[1].Elements[0].Tag != "div" {
		t.Errorf("output: got %+v", run.Output)
	}
}

func TestSaveGeometry_UnknownSession(t *testing.T) {
	a := openTest(t)
	out := &geometry.Output{SessionID: "nope", Snapshots: []geometry.Snapshot{}}
	if _, err := a.SaveGeometry(context.Background(), out, 500); err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestLatestGeometry_NotFound(t *testing.T) {
	a := openTest(t)
	_, err := a.LatestGeometry(context.Background(), "s1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: got %v, want ErrNotFound", err)
	}
}

func TestIsBusy(t *testing.T) {
	for _, msg := range []string{"SQLITE_BUSY", "database is locked"} {
		if !isBusy(errors.New(msg)) {
			t.Errorf("isBusy(%q) = false", msg)
		}
	}
	if isBusy(nil) || isBusy(errors.New("constraint failed")) {
		t.Error("isBusy matched a non-busy error")
	}
}
