package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
	"github.com/hochfrequenz/boardwatch/internal/history"
)

// DispatchResponse is the API response for a dispatch
type DispatchResponse struct {
	ID         string  `json:"id"`
	IssueKey   string  `json:"issue_key"`
	Column     string  `json:"column"`
	Operation  string  `json:"operation"`
	Status     string  `json:"status"`
	StatusCode int     `json:"status_code,omitempty"`
	Response   string  `json:"response,omitempty"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Duration   string  `json:"duration"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	InFlight  []string `json:"in_flight"`
	Done      []string `json:"done"`
	Started   int      `json:"started"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// RescanResponse lists the columns a rescan was requested for
type RescanResponse struct {
	Requested []string `json:"requested"`
}

func dispatchToResponse(d domain.Dispatch) DispatchResponse {
	resp := DispatchResponse{
		ID:         d.ID,
		IssueKey:   d.IssueKey,
		Column:     string(d.Column),
		Operation:  string(d.Operation),
		Status:     string(d.Status),
		StatusCode: d.StatusCode,
		Response:   d.Response,
		Error:      d.Error,
		StartedAt:  d.StartedAt.Format(time.RFC3339),
	}
	if d.FinishedAt != nil {
		t := d.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	resp.Duration = d.Duration().Round(time.Millisecond).String()
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		status := StatusResponse{InFlight: []string{}, Done: []string{}}

		if s.stats != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			stats, err := s.stats.Stats(ctx)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			if stats.InFlight != nil {
				status.InFlight = stats.InFlight
			}
			if stats.Done != nil {
				status.Done = stats.Done
			}
		}

		if s.history != nil {
			counts, err := s.history.Counts()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Started = counts.Started
			status.Succeeded = counts.Succeeded
			status.Failed = counts.Failed
		}

		writeJSON(w, status)
	}
}

func (s *Server) listDispatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeError(w, http.StatusNotFound, "history disabled")
			return
		}

		q := r.URL.Query()
		opts := history.ListOptions{
			IssueKey: q.Get("issue"),
			Status:   domain.DispatchStatus(q.Get("status")),
			Limit:    50,
		}
		if opts.IssueKey != "" && !domain.ValidIssueKey(opts.IssueKey) {
			writeError(w, http.StatusBadRequest, "invalid issue key")
			return
		}
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		dispatches, err := s.history.List(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]DispatchResponse, len(dispatches))
		for i, d := range dispatches {
			responses[i] = dispatchToResponse(d)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) rescanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.pages == nil {
			writeError(w, http.StatusServiceUnavailable, "no page connected")
			return
		}

		columns := []domain.Column{domain.ColumnQA, domain.ColumnInProgress}
		if c := r.URL.Query().Get("column"); c != "" {
			col, err := domain.ParseColumn(c)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			columns = []domain.Column{col}
		}

		resp := RescanResponse{}
		for _, col := range columns {
			if err := s.pages.Send(r.Context(), bridge.CheckColumn(col)); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			resp.Requested = append(resp.Requested, string(col))
		}
		s.log.Info().Strs("columns", resp.Requested).Msg("rescan requested")

		writeJSONStatus(w, http.StatusAccepted, resp)
	}
}
