package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Reader memberikan akses baca ke audit log.
type Reader interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
	All(ctx context.Context, filters TimelineFilters) ([]Entry, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Reader
}

// NewService membuat service audit timeline baru.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if strings.TrimSpace(filters.TenantID) == "" {
		return Result{}, shared.NewValidationError("tenantId", "required", "tenant is required")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// ExportCSV mengambil seluruh data timeline tanpa paging dalam format CSV.
func (s *Service) ExportCSV(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	rows, err := s.repo.All(ctx, filters)
	if err != nil {
		return nil, err
	}
	return WriteCSV(rows)
}

// WriteCSV renders entries with old and new values as JSON columns.
func WriteCSV(rows []Entry) ([]byte, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write([]string{"at", "actor", "role", "action", "entity_type", "entity_id", "old_values", "new_values"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		oldJSON, err := encodeValues(row.OldValues)
		if err != nil {
			return nil, err
		}
		newJSON, err := encodeValues(row.NewValues)
		if err != nil {
			return nil, err
		}
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			row.ActorID,
			row.ActorRole,
			row.Action,
			row.EntityType,
			row.EntityID,
			oldJSON,
			newJSON,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encodeValues(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
