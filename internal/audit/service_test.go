package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubTimelineRepo struct {
	windowRows []Entry
	allRows    []Entry
	lastOffset int
	lastLimit  int
	appended   []Entry
	appendErr  error
	lastCtxErr error
}

func (s *stubTimelineRepo) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	s.lastOffset = offset
	s.lastLimit = limit
	return s.windowRows, nil
}

func (s *stubTimelineRepo) All(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	return s.allRows, nil
}

func (s *stubTimelineRepo) Append(ctx context.Context, entry Entry) error {
	s.lastCtxErr = ctx.Err()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, entry)
	return nil
}

func entryAt(ts string, action string) Entry {
	at, _ := time.Parse(time.RFC3339, ts)
	return Entry{ID: uuid.New(), TenantID: "t1", EntityType: EntityRequisition, EntityID: "r1", Action: action, ActorID: "u1", At: at}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		windowRows: []Entry{
			entryAt("2024-03-10T10:00:00Z", ActionStatusChange),
			entryAt("2024-03-09T09:00:00Z", ActionUpdate),
			entryAt("2024-03-08T08:00:00Z", ActionCreate),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{TenantID: "t1", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page, got %+v", result.Paging)
	}
	if repo.lastLimit != 3 || repo.lastOffset != 0 {
		t.Fatalf("expected limit 3 offset 0, got %d %d", repo.lastLimit, repo.lastOffset)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{TenantID: "t1", Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 51 || repo.lastOffset != 100 {
		t.Fatalf("expected limit 51 offset 100, got %d %d", repo.lastLimit, repo.lastOffset)
	}
	if result.Paging.PrevPage != 2 || result.Rows == nil {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestServiceTimelineRequiresTenant(t *testing.T) {
	_, err := NewService(&stubTimelineRepo{}).Timeline(context.Background(), TimelineFilters{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestExportCSV(t *testing.T) {
	row := entryAt("2024-03-10T10:00:00Z", ActionConvert)
	row.NewValues = map[string]any{"status": "FULLY_CONVERTED"}
	svc := NewService(&stubTimelineRepo{allRows: []Entry{row}})
	data, err := svc.ExportCSV(context.Background(), TimelineFilters{TenantID: "t1"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "2024-03-10T10:00:00Z") || !strings.Contains(lines[1], "FULLY_CONVERTED") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}

func TestRecorderSwallowsFailures(t *testing.T) {
	repo := &stubTimelineRepo{appendErr: errors.New("connection refused")}
	rec := NewRecorder(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec.Append(context.Background(), Entry{EntityType: EntityRequisition, EntityID: "r1", Action: ActionCreate})
	if len(repo.appended) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestRecorderFillsDefaultsAndIgnoresCancellation(t *testing.T) {
	repo := &stubTimelineRepo{}
	rec := NewRecorder(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Append(ctx, Entry{EntityType: EntityPurchaseOrder, EntityID: "po1", Action: ActionCreate})
	if len(repo.appended) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.appended))
	}
	if repo.lastCtxErr != nil {
		t.Fatalf("expected live context, got %v", repo.lastCtxErr)
	}
	got := repo.appended[0]
	if got.ID == uuid.Nil || got.At.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Append(context.Background(), Entry{})
}
