package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/journal"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/observability"
)

const maxBody = 1 << 20

// CommandRequest is the body of POST /api/commands/{verb}. Every field is
// optional; NORMAL_START falls back to the daemon configuration.
type CommandRequest struct {
	ID       string `json:"id,omitempty"`
	Config   string `json:"config,omitempty"`
	Path     string `json:"path,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// CommandResponse carries the controller result. Error is set when the
// command did not succeed.
type CommandResponse struct {
	Result lifecycle.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
	Code   string           `json:"code,omitempty"`
}

// ForwardResponse carries a route result and any per-entry roster failures.
type ForwardResponse struct {
	Result forward.RouteResult `json:"result"`
	Errors []string            `json:"errors,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeBody(r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	verb := lifecycle.ParseVerb(chi.URLParam(r, "verb"))
	cmd := lifecycle.Command{
		ID:       req.ID,
		Verb:     verb,
		Config:   req.Config,
		DataPath: req.Path,
		Identity: req.Identity,
		Source:   "http",
	}
	res, err := s.svc.Command(r.Context(), cmd)
	if err != nil {
		s.Error(w, r, err)
		return
	}

	out := CommandResponse{Result: res}
	code := http.StatusOK
	if res.Err != nil {
		code = s.errors.StatusCodeFor(res.Err)
		out.Error = res.Err.Error()
		if c, ok := ferrors.AsClassified(res.Err); ok {
			out.Error = c.Message()
			out.Code = string(c.Category())
		}
		observability.WarnContext(r.Context(), s.logger, "Command failed", logfields.Error(res.Err))
	}
	writeJSON(w, code, out)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	payload := forward.NewPayload()
	if err := decodeBody(r, payload); err != nil {
		s.Error(w, r, err)
		return
	}
	res, err := s.svc.Forward(r.Context(), chi.URLParam(r, "verb"), payload)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	out := ForwardResponse{Result: res}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForwardVerbs(w http.ResponseWriter, _ *http.Request) {
	s.Success(w, http.StatusOK, forward.Verbs())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Snapshot(r.Context())
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.Error(w, r, ferrors.ValidationError("limit must be a positive integer").
				WithContext("limit", v).
				Build())
			return
		}
		limit = n
	}
	entries, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.Success(w, http.StatusOK, entries)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "malformed request body").Build()
	}
	return nil
}
