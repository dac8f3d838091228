package audit

import "time"

// TimelineFilters menampung filter untuk audit timeline.
type TimelineFilters struct {
	TenantID   string
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"hasNext"`
	PageSize int  `json:"pageSize"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
