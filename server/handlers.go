package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	errTooManyRequests = errors.New("too many requests")
	errBadRequest      = errors.New("bad request")
)

var tracer = otel.Tracer("github.com/defistate/defistate-oracle-go/server")

// observe traces and counts every request under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
		))
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.metrics.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

type quoteResponse struct {
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
}

// GET /v1/quote?tokenIn=&amountIn=&tokenOut=[&data=0x..]
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn, err := parseAddress("tokenIn", q.Get("tokenIn"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenOut, err := parseAddress("tokenOut", q.Get("tokenOut"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountIn, ok := new(big.Int).SetString(q.Get("amountIn"), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: amountIn must be a base 10 integer", errBadRequest))
		return
	}
	var data []byte
	if raw := q.Get("data"); raw != "" {
		if data, err = hexutil.Decode(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: data: %v", errBadRequest, err))
			return
		}
	}

	out, err := s.oracle.Quote(r.Context(), tokenIn, amountIn, tokenOut, data)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn.String(),
		AmountOut: out.String(),
	})
}

type assignmentResponse struct {
	Backend string `json:"backend"`
	Forced  bool   `json:"forced"`
}

type pairResponse struct {
	TokenA      common.Address      `json:"tokenA"`
	TokenB      common.Address      `json:"tokenB"`
	CanSupport  bool                `json:"canSupport"`
	IsSupported bool                `json:"isSupported"`
	Assignment  *assignmentResponse `json:"assignment,omitempty"`
}

// GET /v1/pairs/{tokenA}/{tokenB}
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	pair, err := pairFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writePair(w, r, pair)
}

type supportRequest struct {
	// IfNeeded leaves a supported pair untouched.
	IfNeeded bool          `json:"ifNeeded"`
	Data     hexutil.Bytes `json:"data"`
}

// POST /v1/pairs/{tokenA}/{tokenB}/support
func (s *Server) handleSupport(w http.ResponseWriter, r *http.Request) {
	pair, err := pairFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req supportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid payload", errBadRequest))
			return
		}
	}

	if req.IfNeeded {
		err = s.oracle.AddSupportForPairIfNeeded(r.Context(), pair.TokenA, pair.TokenB, req.Data)
	} else {
		err = s.oracle.AddOrModifySupportForPair(r.Context(), pair.TokenA, pair.TokenB, req.Data)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writePair(w, r, pair)
}

func (s *Server) writePair(w http.ResponseWriter, r *http.Request, pair engine.Pair) {
	ctx := r.Context()
	resp := pairResponse{TokenA: pair.TokenA, TokenB: pair.TokenB}
	var err error
	if resp.CanSupport, err = s.oracle.CanSupportPair(ctx, pair.TokenA, pair.TokenB); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if resp.IsSupported, err = s.oracle.IsPairAlreadySupported(ctx, pair.TokenA, pair.TokenB); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	assigned, err := s.assignments.AssignedBackend(ctx, pair.TokenA, pair.TokenB)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if assigned.Backend != "" {
		resp.Assignment = &assignmentResponse{Backend: assigned.Backend, Forced: assigned.Forced}
	}
	writeJSON(w, http.StatusOK, resp)
}

type multicallRequest struct {
	Calls []hexutil.Bytes `json:"calls"`
}

type multicallResponse struct {
	Results []hexutil.Bytes `json:"results"`
}

// POST /v1/multicall
func (s *Server) handleMulticall(w http.ResponseWriter, r *http.Request) {
	var req multicallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid payload", errBadRequest))
		return
	}
	if len(req.Calls) > s.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: at most %d calls per batch", errBadRequest, s.maxBatch))
		return
	}
	calls := make([][]byte, len(req.Calls))
	for i, c := range req.Calls {
		calls[i] = c
	}
	results, err := s.multicall.Multicall(r.Context(), calls)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := multicallResponse{Results: make([]hexutil.Bytes, len(results))}
	for i, res := range results {
		resp.Results[i] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", errBadRequest, field)
	}
	return common.HexToAddress(value), nil
}

func pairFromPath(r *http.Request) (engine.Pair, error) {
	a, err := parseAddress("tokenA", chi.URLParam(r, "tokenA"))
	if err != nil {
		return engine.Pair{}, err
	}
	b, err := parseAddress("tokenB", chi.URLParam(r, "tokenB"))
	if err != nil {
		return engine.Pair{}, err
	}
	return engine.NewPair(a, b), nil
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrUnresolved):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrUnsupported), errors.Is(err, engine.ErrBudgetExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrStaleOrInvalidFeed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
