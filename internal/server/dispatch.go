package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/correlation"
)

// Response texts for failures the script never saw.
const (
	msgTimeout       = "Handler timeout"
	msgNoResponse    = "Handler failed to respond"
	msgInvalidStatus = "Handler returned an invalid status code"
)

// dispatch returns the route closure for one handler.
func (s *Server) dispatch(handler string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, s.cfg.MaxBodyBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		id, ch := s.reg.Register()
		s.observePending()
		defer s.observePending()
		w.Header().Set("X-Request-Id", strconv.FormatUint(uint64(id), 10))

		req := core.Request{
			Handler:   handler,
			RequestID: id,
			Params:    urlParams(r),
			Query:     flatQuery(r.URL.Query()),
			Body:      body,
		}
		log := s.log.With(zap.Uint32("request_id", id), zap.String("handler", handler))

		go s.run(req, log)

		out, err := s.reg.Wait(r.Context(), id, ch, s.cfg.HandlerTimeout.Std())
		switch {
		case errors.Is(err, correlation.ErrTimeout):
			log.Warn("handler timed out", zap.Duration("timeout", s.cfg.HandlerTimeout.Std()))
			writeText(w, http.StatusGatewayTimeout, msgTimeout)
			return
		case err != nil:
			log.Debug("client went away", zap.Error(err))
			return
		}
		status, text := respond(out)
		if out.Err != nil {
			log.Error("handler failed", zap.Error(out.Err))
		}
		writeText(w, status, text)
	}
}

// run executes req on the worker and completes its registry entry. The
// worker keeps running a handler after its request timed out; that late
// outcome is dropped here.
func (s *Server) run(req core.Request, log *zap.Logger) {
	res, err := s.exec.ExecuteRequest(context.Background(), req)
	if cerr := s.reg.Complete(req.RequestID, correlation.Outcome{Result: res, Err: err}); cerr != nil {
		log.Info("late handler result dropped", zap.Error(cerr))
	}
}

func (s *Server) observePending() {
	if s.metrics != nil {
		s.metrics.PendingRequests(s.reg.Len())
	}
}

// respond maps a handler outcome to a status and body.
func respond(out correlation.Outcome) (int, string) {
	if out.Err != nil {
		switch {
		case errors.Is(out.Err, core.ErrExecutionDeadline):
			return http.StatusGatewayTimeout, msgTimeout
		case errors.Is(out.Err, core.ErrHandlerNotFound):
			return http.StatusInternalServerError, fmt.Sprintf("Failed to invoke handler: %v.", out.Err)
		default:
			return http.StatusInternalServerError, msgNoResponse
		}
	}
	status := int(out.Result.StatusCode)
	if status < 100 || status > 999 {
		return http.StatusInternalServerError, msgInvalidStatus
	}
	return status, out.Result.Body
}

func writeText(w http.ResponseWriter, status int, body string) {
	h := w.Header()
	if h.Get("Content-Type") == "" && body != "" {
		h.Set("Content-Type", contentType(body))
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// contentType labels bodies produced by res.json or res.send(object).
func contentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// readBody returns the request body as a JSON value: null when empty, the
// body itself when it is valid JSON, and a JSON string otherwise.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) (json.RawMessage, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return json.RawMessage("null"), nil
	}
	var src io.Reader = r.Body
	if limit > 0 {
		src = http.MaxBytesReader(w, r.Body, limit)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return bodyJSON(b), nil
}

func bodyJSON(b []byte) json.RawMessage {
	if len(strings.TrimSpace(string(b))) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	enc, _ := json.Marshal(string(b))
	return enc
}

// flatQuery keeps the last value of each repeated key.
func flatQuery(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k, vs := range v {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out
}

func urlParams(r *http.Request) map[string]string {
	out := map[string]string{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return out
	}
	for i, k := range rctx.URLParams.Keys {
		if k == "*" {
			continue
		}
		out[k] = rctx.URLParams.Values[i]
	}
	return out
}
