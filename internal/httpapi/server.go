// Package httpapi exposes the service surface: the carrier webhook that
// answers inbound calls with stream instructions, the websocket endpoints
// for the telephony and observer legs, and the operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/trunkline/internal/assets"
	"github.com/ent0n29/trunkline/internal/bridge"
	"github.com/ent0n29/trunkline/internal/claims"
	"github.com/ent0n29/trunkline/internal/config"
	"github.com/ent0n29/trunkline/internal/observability"
	"github.com/ent0n29/trunkline/internal/realtime"
	"github.com/ent0n29/trunkline/internal/registry"
	"github.com/ent0n29/trunkline/internal/transport"
)

type Server struct {
	cfg       config.Config
	sessions  *registry.Supervisor
	dialer    *realtime.Dialer
	claims    claims.Store
	holdStore assets.Store
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *registry.Supervisor, dialer *realtime.Dialer, claimStore claims.Store, holdStore assets.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		dialer:    dialer,
		claims:    claimStore,
		holdStore: holdStore,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Carrier media streams and observer consoles are not
				// browsers on our origin; same-origin is still enforced for
				// anything that does send an Origin header unless the
				// deployment opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/twiml", s.handleTwiML)
	r.Get("/call/ws", s.handleCallWS)
	r.Get("/observer/ws", s.handleObserverWS)

	r.Get("/v1/holdmusic/tracks", s.handleListTracks)
	r.Get("/v1/calls/{call_sid}/claim", s.handleGetClaim)
	r.Post("/v1/calls/{call_sid}/claim", s.handleTakeClaim)
	r.Post("/v1/calls/{call_sid}/claim/verify", s.handleVerifyClaim)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if strings.TrimSpace(s.cfg.OpenAIAPIKey) == "" {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "model credential not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// twimlResponse is the carrier's answer document: connect the call's media
// stream to our telephony websocket endpoint.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// handleTwiML answers the carrier's inbound-call webhook. The call is also
// offered to the claim store so an operator can pick it up.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := strings.TrimSpace(r.PostFormValue("From"))

	if s.claims != nil && callSid != "" {
		if _, err := s.claims.Offer(r.Context(), callSid, from); err != nil {
			// The call proceeds even if the claim record fails.
			s.metrics.SessionEvents.WithLabelValues("claim_offer_failed").Inc()
		}
	}

	host := strings.TrimSpace(s.cfg.PublicHost)
	if host == "" {
		host = r.Host
	}
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{
		URL: fmt.Sprintf("wss://%s/call/ws", host),
	}}}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}

// handleCallWS accepts the telephony leg. The call identity arrives inside
// the stream's start frame, so the socket is parked on a provisional
// session keyed by the carrier connection until start names the call.
func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := transport.NewWSConn(ws)
	s.metrics.SessionEvents.WithLabelValues("telephony_connected").Inc()

	dialer := s.modelDialer()

	// The first start frame decides which session owns this leg.
	var sess *bridge.Session
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if sess != nil {
				sess.OnAnyConnClose(conn)
			}
			return
		}
		s.metrics.WSMessages.WithLabelValues("telephony", "inbound").Inc()
		if sess == nil {
			id := callIDFromStart(data)
			if id == "" {
				// connected preamble or noise ahead of start.
				continue
			}
			sess = s.sessions.GetOrCreate(id)
			sess.OnTelephonyConnect(conn, dialer)
		}
		sess.OnTelephonyMessage(data)
	}
}

// callIDFromStart extracts the call identity from a stream-start frame,
// falling back to the stream identifier when the carrier omits the call.
func callIDFromStart(raw []byte) string {
	var probe struct {
		Event string `json:"event"`
		Start struct {
			CallSid   string `json:"callSid"`
			StreamSid string `json:"streamSid"`
		} `json:"start"`
		StreamSid string `json:"streamSid"`
	}
	if json.Unmarshal(raw, &probe) != nil || probe.Event != "start" {
		return ""
	}
	if probe.Start.CallSid != "" {
		return probe.Start.CallSid
	}
	if probe.Start.StreamSid != "" {
		return probe.Start.StreamSid
	}
	return probe.StreamSid
}

// handleObserverWS accepts an observer leg for a named call. role=primary
// receives the live event feed directly; any other role receives the
// registry broadcast.
func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("call_id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_id", "query parameter call_id is required")
		return
	}
	primary := strings.EqualFold(r.URL.Query().Get("role"), "primary")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := transport.NewWSConn(ws)
	s.metrics.SessionEvents.WithLabelValues("observer_connected").Inc()

	sess := s.sessions.GetOrCreate(callID)
	sess.OnObserverConnect(conn, primary)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			sess.OnAnyConnClose(conn)
			return
		}
		s.metrics.WSMessages.WithLabelValues("observer", "inbound").Inc()
		sess.OnObserverMessage(conn, data)
	}
}

func (s *Server) handleListTracks(w http.ResponseWriter, _ *http.Request) {
	if s.holdStore == nil {
		respondJSON(w, http.StatusOK, map[string]any{"tracks": []assets.Info{}})
		return
	}
	infos, err := s.holdStore.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "asset_list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tracks": infos})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claim, ok := s.lookupClaim(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, claim)
}

func (s *Server) handleTakeClaim(w http.ResponseWriter, r *http.Request) {
	s.transitionClaim(w, r, claims.Store.Take)
}

func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	s.transitionClaim(w, r, claims.Store.Verify)
}

type claimRequest struct {
	OperatorID string `json:"operator_id"`
}

func (s *Server) transitionClaim(w http.ResponseWriter, r *http.Request, op func(claims.Store, context.Context, string, string) (*claims.Claim, error)) {
	if s.claims == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "claim store not configured")
		return
	}
	callSid := chi.URLParam(r, "call_sid")
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.OperatorID) == "" {
		respondError(w, http.StatusBadRequest, "missing_operator_id", "operator_id is required")
		return
	}

	claim, err := op(s.claims, r.Context(), callSid, req.OperatorID)
	switch {
	case errors.Is(err, claims.ErrNotFound):
		respondError(w, http.StatusNotFound, "claim_not_found", err.Error())
	case errors.Is(err, claims.ErrInvalidTransition), errors.Is(err, claims.ErrWrongOperator):
		respondError(w, http.StatusConflict, "claim_conflict", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "claim_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, claim)
	}
}

func (s *Server) lookupClaim(w http.ResponseWriter, r *http.Request) (*claims.Claim, bool) {
	if s.claims == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "claim store not configured")
		return nil, false
	}
	callSid := chi.URLParam(r, "call_sid")
	claim, err := s.claims.Get(r.Context(), callSid)
	if errors.Is(err, claims.ErrNotFound) {
		respondError(w, http.StatusNotFound, "claim_not_found", err.Error())
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "claim_failed", err.Error())
		return nil, false
	}
	return claim, true
}

// modelDialer binds the backend credential into the dialer handed to the
// session, adapting the concrete realtime conn to the bridge interface.
func (s *Server) modelDialer() bridge.ModelDialer {
	if s.dialer == nil {
		return nil
	}
	return func(ctx context.Context) (bridge.ModelConn, error) {
		conn, err := s.dialer.DialWithRetry(ctx, 3)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
