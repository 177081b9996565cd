package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"solswing/config"
	"solswing/internal/backtest"
	"solswing/internal/engine"
	"solswing/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// setCORS sets CORS headers for REST endpoints.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Server is the HTTP/WebSocket front of the engine.
type Server struct {
	cfg *config.Config
	eng *engine.Engine
	hub *Hub
	srv *http.Server

	root       context.Context
	cancelRoot context.CancelFunc
}

// NewServer builds the router and binds the handlers.
func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	root, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		eng:        eng,
		hub:        NewHub(eng),
		root:       root,
		cancelRoot: cancel,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload_csv", s.handleUploadCSV).Methods(http.MethodPost)
	api.HandleFunc("/data_status", s.handleDataStatus).Methods(http.MethodGet)
	api.HandleFunc("/signals_latest", s.handleSignalsLatest).Methods(http.MethodGet)
	api.HandleFunc("/scalp_card", s.handleScalpCard).Methods(http.MethodGet)
	api.HandleFunc("/stream_snapshot", s.handleStreamSnapshot).Methods(http.MethodGet)

	api.HandleFunc("/live/start", s.handleLiveStart).Methods(http.MethodPost)
	api.HandleFunc("/live/stop", s.handleLiveStop).Methods(http.MethodPost)
	api.HandleFunc("/live/status", s.handleLiveStatus).Methods(http.MethodGet)

	api.HandleFunc("/mtf/start", s.handleMTFStart).Methods(http.MethodPost)
	api.HandleFunc("/mtf/stop", s.handleMTFStop).Methods(http.MethodPost)
	api.HandleFunc("/mtf/status", s.handleMTFStatus).Methods(http.MethodGet)
	api.HandleFunc("/mtf/confluence", s.handleMTFConfluence).Methods(http.MethodGet)

	api.HandleFunc("/stream/start", s.handleStreamStart).Methods(http.MethodPost)
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods(http.MethodPost)

	api.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	api.HandleFunc("/backtest/{id}", s.handleBacktestResult).Methods(http.MethodGet)

	// Wrap above the router so preflights reach us even for routes bound to
	// a single method.
	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		setCORS(w)
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		r.ServeHTTP(w, req)
	})

	s.srv = &http.Server{Addr: cfg.HTTPAddr, Handler: h}
	return s
}

// Start launches the hub pump and the HTTP listener.
func (s *Server) Start() {
	go s.hub.Run(s.root)
	go func() {
		log.Printf("[gateway] listening on %s", s.cfg.HTTPAddr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[gateway] server error: %v", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	s.cancelRoot()
	s.srv.Shutdown(ctx)
}

// ── Response plumbing ──

type errBody struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy to HTTP status codes and the stable
// {error:{kind,message}} shape.
func writeErr(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case model.EBadInput, model.EConfig:
		code = http.StatusBadRequest
	case model.EOversize:
		code = http.StatusRequestEntityTooLarge
	case model.EInsufficientHistory, model.ENoSignal, model.EVeto, model.EStale:
		code = http.StatusConflict
	case model.ECancelled:
		code = http.StatusRequestTimeout
	case model.EUpstream:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]errBody{"error": {Kind: kind, Message: err.Error()}})
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ── Handlers ──

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	c := newClient(s.hub, conn)
	s.hub.AddClient(c)
	go c.writePump()
	go c.readPump()
}

func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	sum, err := s.eng.UploadCSV(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":    sum.Rows,
		"columns": sum.Columns,
		"success": true,
		"message": "loaded",
	})
}

func (s *Server) handleDataStatus(w http.ResponseWriter, r *http.Request) {
	loaded, count := s.eng.DataStatus()
	writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded, "count": count})
}

func (s *Server) handleSignalsLatest(w http.ResponseWriter, r *http.Request) {
	p := s.cfg.Params.Detector
	p.ATRMin = queryFloat(r, "atr_min", p.ATRMin)
	p.VolZMin = queryFloat(r, "volz_min", p.VolZMin)
	p.BBWMin = queryFloat(r, "bbw_min", p.BBWMin)
	p.ConfirmWindow = queryInt(r, "confirm_window", p.ConfirmWindow)
	p.BreakoutATRMult = queryFloat(r, "breakout_atr_mult", p.BreakoutATRMult)
	p.VolMult = queryFloat(r, "vol_mult", p.VolMult)
	gate := queryBool(r, "enable_micro_gate", s.cfg.EnableMicroGate)

	sig, vs, err := s.eng.SignalsLatest(p, gate)
	if err != nil {
		if model.IsKind(err, model.ENoSignal) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "no signal"})
			return
		}
		if model.IsKind(err, model.EVeto) {
			writeJSON(w, http.StatusOK, map[string]any{"message": "vetoed", "veto": vs.Map(), "signal": sig})
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleScalpCard(w http.ResponseWriter, r *http.Request) {
	gate := queryBool(r, "enable_micro_gate", s.cfg.EnableMicroGate)
	force := queryBool(r, "force", false)

	card, vs, err := s.eng.ScalpCard(gate, force)
	if err != nil {
		if model.IsKind(err, model.EVeto) {
			writeJSON(w, http.StatusOK, map[string]any{"message": "vetoed", "veto": vs.Map()})
			return
		}
		if model.IsKind(err, model.ENoSignal) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "no signal"})
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": card})
}

func (s *Server) handleStreamSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.StreamSnapshot())
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.LiveStart(s.root); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	s.eng.LiveStop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.LiveStatus())
}

func (s *Server) handleMTFStart(w http.ResponseWriter, r *http.Request) {
	s.eng.MTFStart(s.root)
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleMTFStop(w http.ResponseWriter, r *http.Request) {
	s.eng.MTFStop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleMTFStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.eng.MTFRunning(),
		"state":   s.eng.MTFState(),
	})
}

func (s *Server) handleMTFConfluence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.MTFConfluence())
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	s.eng.StreamStart(s.root)
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.eng.StreamStop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	bcfg := s.cfg.Params.Backtest
	params := s.cfg.Params.Detector
	if r.Body != nil {
		defer r.Body.Close()
		var body struct {
			backtest.Config
			Detector *struct {
				ATRMin  *float64 `json:"atr_min"`
				VolZMin *float64 `json:"volz_min"`
			} `json:"detector"`
		}
		body.Config = bcfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, model.Wrap(model.EBadInput, err, "backtest config"))
			return
		}
		bcfg = body.Config
		if body.Detector != nil {
			if body.Detector.ATRMin != nil {
				params.ATRMin = *body.Detector.ATRMin
			}
			if body.Detector.VolZMin != nil {
				params.VolZMin = *body.Detector.VolZMin
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	res, err := s.eng.RunBacktest(ctx, bcfg, params)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backtest_id": res.RunID,
		"statistics":  res.Stats,
	})
}

func (s *Server) handleBacktestResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, ok := s.eng.BacktestResult(id)
	if !ok {
		writeErr(w, model.Errf(model.EBadInput, "unknown backtest id %q", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statistics": res.Stats,
		"trades":     res.Trades,
		"partial":    res.Partial,
	})
}
