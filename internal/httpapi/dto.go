package httpapi

import "tixwatch/internal/watch"

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Time    string `json:"time"`
	Host    string `json:"host"`
}

// TaskErrorResponse is one per-task failure from a pass.
type TaskErrorResponse struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// TickResponse summarizes what one cron tick started. Pass counters are
// zero unless the pass ran inline.
type TickResponse struct {
	OK        bool                `json:"ok"`
	Scheduled int                 `json:"scheduled"`
	Fallback  bool                `json:"fallback"`
	Due       int                 `json:"due"`
	Processed int                 `json:"processed"`
	Notified  int                 `json:"notified"`
	Deferred  int                 `json:"deferred"`
	Errors    []TaskErrorResponse `json:"errors"`
}

// DiagResponse is the body of GET /diag.
type DiagResponse struct {
	URL       string         `json:"url"`
	Outcome   string         `json:"outcome"`
	Signature string         `json:"signature"`
	Sections  map[string]int `json:"sections,omitempty"`
	Total     int            `json:"total"`
	SoldOut   bool           `json:"sold_out"`
	TextMode  bool           `json:"text_mode"`
	HasTicket bool           `json:"has_ticket"`
	Details   []string       `json:"details,omitempty"`
	Buttons   []string       `json:"buttons,omitempty"`
	Title     string         `json:"title,omitempty"`
	Venue     string         `json:"venue,omitempty"`
	DateTime  string         `json:"date_time,omitempty"`
	ImageURL  string         `json:"image_url,omitempty"`
}

// ToDiagResponse converts a probe into its JSON form.
func ToDiagResponse(p *watch.Probe) DiagResponse {
	s := p.Snapshot
	return DiagResponse{
		URL:       p.URL,
		Outcome:   string(s.Outcome()),
		Signature: p.Signature,
		Sections:  s.Sections,
		Total:     s.Total,
		SoldOut:   s.SoldOut,
		TextMode:  s.TextMode,
		HasTicket: s.HasTicket,
		Details:   s.Details,
		Buttons:   s.Buttons,
		Title:     s.Meta.Title,
		Venue:     s.Meta.Venue,
		DateTime:  s.Meta.DateTime,
		ImageURL:  s.Meta.ImageURL,
	}
}
