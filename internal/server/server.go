// Package server exposes the screening engine over HTTP: a public verdict
// surface (/v1/screen, /v1/execute) and a token-gated admin surface for
// rule management, the audit trail, and the kill switch.
package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sugawarayuuta/sonnet"

	"github.com/meltingclock/safeguard_v1/internal/audit"
	"github.com/meltingclock/safeguard_v1/internal/batch"
	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/firewall"
	"github.com/meltingclock/safeguard_v1/internal/helpers"
	"github.com/meltingclock/safeguard_v1/internal/oracle"
	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

const maxBody = 1 << 20

// Alerter receives out-of-band notifications for rejected traffic. The
// Telegram guardian implements it.
type Alerter interface {
	Alert(text string)
}

type Server struct {
	engine  *firewall.Engine
	journal *audit.Journal // nil disables journaling
	gate    *oracle.Gate   // nil on ungated chains
	token   string         // empty locks the admin surface shut
	alerter Alerter
	started time.Time
}

func New(engine *firewall.Engine, journal *audit.Journal, gate *oracle.Gate, adminToken string) *Server {
	return &Server{
		engine:  engine,
		journal: journal,
		gate:    gate,
		token:   adminToken,
		started: time.Now(),
	}
}

// SetAlerter attaches the guardian notification sink. Safe to skip; a nil
// alerter drops notifications.
func (s *Server) SetAlerter(a Alerter) { s.alerter = a }

func (s *Server) alert(format string, args ...any) {
	if s.alerter == nil {
		return
	}
	s.alerter.Alert(fmt.Sprintf(format, args...))
}

// Router assembles the chi routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/screen", s.handleScreen)
		r.Post("/execute", s.handleExecute)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleRegisterRule)
			r.Post("/rules/disable", s.handleDisableRule)
			r.Get("/screenings", s.handleScreenings)
			r.Get("/log", s.handleLog)
			r.Post("/pause", s.handlePause(true))
			r.Post("/resume", s.handlePause(false))
		})
	})
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry.Debugf("http %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			writeError(w, http.StatusForbidden, "admin surface disabled: no admin token configured")
			return
		}
		got := []byte(r.Header.Get("Authorization"))
		want := []byte("Bearer " + s.token)
		if subtle.ConstantTimeCompare(got, want) != 1 {
			telemetry.Warnf("admin auth failure from %s", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "bad admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type envelopeRequest struct {
	Envelope string `json:"envelope"`
}

type verdictResponse struct {
	ID      string `json:"id,omitempty"`
	Verdict string `json:"verdict"`
	Calls   int    `json:"calls"`
	Reason  string `json:"reason,omitempty"`
	Tx      string `json:"tx,omitempty"`
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	envelope, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	calls, err := s.engine.Screen(r.Context(), envelope)

	resp := verdictResponse{Calls: len(calls)}
	verdict := audit.VerdictPassed
	if err != nil {
		resp.Verdict = "reject"
		resp.Reason = err.Error()
		verdict = audit.VerdictRejected
		s.alert("🚫 *Batch rejected at screening*\n%s", err)
	} else {
		resp.Verdict = "pass"
	}
	resp.ID = s.record(r, envelope, len(calls), verdict, resp.Reason)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	envelope, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}
	hash, err := s.engine.Execute(r.Context(), envelope)
	n := callCount(envelope)
	switch {
	case err == nil:
		id := s.record(r, envelope, n, audit.VerdictForwarded, "")
		writeJSON(w, http.StatusOK, verdictResponse{ID: id, Verdict: "forwarded", Calls: n, Tx: hash.Hex()})
	case errors.Is(err, firewall.ErrPaused), errors.Is(err, firewall.ErrNoForwarder):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		id := s.record(r, envelope, n, audit.VerdictRejected, err.Error())
		s.alert("🚫 *Execution blocked*\n%s", err)
		writeJSON(w, http.StatusConflict, verdictResponse{ID: id, Verdict: "reject", Calls: n, Reason: err.Error()})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rules := s.engine.Rules()
	resp := struct {
		Account    string             `json:"account"`
		UptimeSec  int64              `json:"uptime_sec"`
		Paused     bool               `json:"paused"`
		Forwarding bool               `json:"forwarding"`
		Rules      int                `json:"rules"`
		Revision   uint64             `json:"revision"`
		Sequencer  string             `json:"sequencer,omitempty"`
		Counters   telemetry.Snapshot `json:"counters"`
	}{
		Account:    s.engine.Account().Hex(),
		UptimeSec:  int64(time.Since(s.started).Seconds()),
		Paused:     s.engine.Paused(),
		Forwarding: s.engine.Forwarding(),
		Rules:      rules.Size(),
		Revision:   rules.Revision(),
		Counters:   telemetry.Stats(),
	}
	if s.gate != nil {
		resp.Sequencer = "up"
		if s.gate.Down() {
			resp.Sequencer = "down"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type ruleView struct {
	Target    string `json:"target"`
	Selector  string `json:"selector"`
	Validator string `json:"validator"`
	Version   uint64 `json:"version"`
	Disabled  bool   `json:"disabled,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.Rules().Entries()
	out := make([]ruleView, 0, len(entries))
	for _, e := range entries {
		name, _ := s.engine.ValidatorName(e.Rule.Validator)
		out = append(out, ruleView{
			Target:    e.Key.Target.Hex(),
			Selector:  hexutil.Encode(e.Key.Selector[:]),
			Validator: name,
			Version:   e.Rule.Version,
			Disabled:  e.Rule.Disabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

type ruleRequest struct {
	Target    string `json:"target"`
	Selector  string `json:"selector"`
	Validator string `json:"validator,omitempty"`
	Config    string `json:"config,omitempty"`
}

func (s *Server) handleRegisterRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !readJSON(w, r, &req) {
		return
	}
	target, err := helpers.ValidateAddress(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("target: %v", err))
		return
	}
	sel, err := parseSelector(req.Selector)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.engine.HasValidator(req.Validator) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown validator %q", req.Validator))
		return
	}
	config, err := hexutil.Decode(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("config: %v", err))
		return
	}

	rules := s.engine.Rules()
	rules.Register(target, sel, firewall.ValidatorID(req.Validator), config)
	rule, _ := rules.Lookup(target, sel)

	key := registry.Key{Target: target, Selector: sel}
	if s.journal != nil {
		if err := s.journal.RecordPolicyEvent(r.Context(), "register", key, req.Validator, rule.Version); err != nil {
			telemetry.Errorf("journal policy event: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, ruleView{
		Target:    target.Hex(),
		Selector:  hexutil.Encode(sel[:]),
		Validator: req.Validator,
		Version:   rule.Version,
	})
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !readJSON(w, r, &req) {
		return
	}
	target, err := helpers.ValidateAddress(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("target: %v", err))
		return
	}
	sel, err := parseSelector(req.Selector)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules := s.engine.Rules()
	if !rules.Disable(target, sel) {
		writeError(w, http.StatusNotFound, "no such rule")
		return
	}
	rule, _ := rules.Lookup(target, sel)
	name, _ := s.engine.ValidatorName(rule.Validator)

	key := registry.Key{Target: target, Selector: sel}
	if s.journal != nil {
		if err := s.journal.RecordPolicyEvent(r.Context(), "disable", key, name, rule.Version); err != nil {
			telemetry.Errorf("journal policy event: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, ruleView{
		Target:    target.Hex(),
		Selector:  hexutil.Encode(sel[:]),
		Validator: name,
		Version:   rule.Version,
		Disabled:  true,
	})
}

func (s *Server) handleScreenings(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "audit journal disabled")
		return
	}
	list, err := s.journal.RecentScreenings(r.Context(), queryN(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type view struct {
		ID        string `json:"id"`
		Account   string `json:"account"`
		Calls     int    `json:"calls"`
		Verdict   string `json:"verdict"`
		Reason    string `json:"reason,omitempty"`
		Payload   string `json:"payload"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]view, 0, len(list))
	for _, sc := range list {
		out = append(out, view{
			ID:        sc.ID,
			Account:   sc.Account.Hex(),
			Calls:     sc.Calls,
			Verdict:   string(sc.Verdict),
			Reason:    sc.Reason,
			Payload:   sc.Payload.Hex(),
			CreatedAt: sc.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"screenings": out})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lines": telemetry.Tail(queryN(r, 100))})
}

func (s *Server) handlePause(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.engine.SetPaused(on)
		writeJSON(w, http.StatusOK, map[string]bool{"paused": on})
	}
}

// record journals a verdict, tolerating a disabled journal.
func (s *Server) record(r *http.Request, envelope []byte, calls int, verdict audit.Verdict, reason string) string {
	if s.journal == nil {
		return ""
	}
	id, err := s.journal.RecordScreening(r.Context(), s.engine.Account(), envelope, calls, verdict, reason)
	if err != nil {
		telemetry.Errorf("journal screening: %v", err)
		return ""
	}
	return id
}

func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req envelopeRequest
	if !readJSON(w, r, &req) {
		return nil, false
	}
	envelope, err := hexutil.Decode(req.Envelope)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("envelope: %v", err))
		return nil, false
	}
	return envelope, true
}

// callCount decodes for the journal only; verdicts come from the engine.
func callCount(envelope []byte) int {
	calls, err := batch.Decode(envelope)
	if err != nil {
		return 0
	}
	return len(calls)
}

func parseSelector(s string) (cursor.Selector, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return cursor.Selector{}, fmt.Errorf("selector: %v", err)
	}
	sel, err := cursor.ToSelector(raw)
	if err != nil {
		return cursor.Selector{}, fmt.Errorf("selector: %v", err)
	}
	return sel, nil
}

func queryN(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("n"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return false
	}
	if err := sonnet.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
