// server.go - HTTP surface of the pool daemon
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shieldpool/internal/account"
	"shieldpool/internal/metrics"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Options wires the server to its collaborators. Only Service is required.
type Options struct {
	Service *pool.Service
	// Funder backs POST /v1/faucet; the route exists only when set.
	Funder   pool.Funder
	Health   *HealthChecker
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *CallerRateLimiter
	Logger   zerolog.Logger
	// Timeout bounds each request; zero disables it.
	Timeout time.Duration
}

// Server routes HTTP requests to the pool service.
type Server struct {
	svc      *pool.Service
	funder   pool.Funder
	health   *HealthChecker
	metrics  *metrics.Metrics
	limiter  *CallerRateLimiter
	log      zerolog.Logger
	validate *validator.Validate
	router   chi.Router
}

// NewServer builds the router.
func NewServer(o Options) *Server {
	s := &Server{
		svc:      o.Service,
		funder:   o.Funder,
		health:   o.Health,
		metrics:  o.Metrics,
		limiter:  o.Limiter,
		log:      o.Logger.With().Str("component", "api").Logger(),
		validate: validator.New(),
	}
	if s.health == nil {
		s.health = NewHealthChecker("dev")
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	if o.Timeout > 0 {
		r.Use(middleware.Timeout(o.Timeout))
	}

	r.Get("/healthz", s.handleHealth)
	if o.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/pools", s.handleInitPool)
		r.Route("/pools/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPool)
			r.Get("/audit", s.handleAudit)
			r.Post("/accounts", s.handleOpenAccount)
			r.Get("/accounts/{owner}", s.handleGetAccount)
			r.Post("/shield", s.handleShield)
			r.Post("/transfer", s.handleTransfer)
			r.Post("/unshield", s.handleUnshield)
			r.Get("/nullifiers/{nullifier}", s.handleNullifier)
			r.Post("/admin/fee", s.handleSetFee)
			r.Post("/admin/pause", s.handlePause(true))
			r.Post("/admin/unpause", s.handlePause(false))
		})
		if s.funder != nil {
			r.Post("/faucet", s.handleFaucet)
		}
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(CallerHeader)
		if key == "" {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
		}
		if !s.limiter.Allow(key) {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			s.log.Warn().Str("caller", key).Str("path", r.URL.Path).Msg("rate limited")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Code:     "rate_limited",
				Category: string(poolerr.Capacity),
				Message:  "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.health.CheckHealth()
	status := http.StatusOK
	if h.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, CreateHealthResponse(h))
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, fmt.Sprintf("decode body: %v", err))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeBadRequest(w, err.Error())
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (shielded.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		writeError(w, poolerr.New(poolerr.CodeUnauthorized, "%s header required", CallerHeader))
		return shielded.Address{}, false
	}
	a, err := shielded.ParseAddress(raw)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("%s: %v", CallerHeader, err))
		return shielded.Address{}, false
	}
	return a, true
}

func digestParam(w http.ResponseWriter, r *http.Request, name string) (shielded.Digest, bool) {
	d, err := shielded.ParseDigest(chi.URLParam(r, name))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("%s: %v", name, err))
		return d, false
	}
	return d, true
}

func (s *Server) handleInitPool(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req InitPoolRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.Initialize(r.Context(), pool.InitRequest{
		Admin:              admin,
		FeeBPS:             req.FeeBPS,
		CommitmentCapacity: req.CommitmentCapacity,
		SkipCommitments:    req.SkipCommitments,
		NullifierStrategy:  registry.Strategy(req.NullifierStrategy),
		NullifierCapacity:  req.NullifierCapacity,
		BalanceMode:        account.Mode(req.BalanceMode),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.svc.GetPool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	rep, err := s.svc.Audit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req OpenAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	cm, err := shielded.ParseDigest(req.Commitment)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var key shielded.EncryptionKey
	if req.EncryptionKey != "" {
		if err := key.UnmarshalText([]byte(req.EncryptionKey)); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	acct, err := s.svc.OpenAccount(r.Context(), pool.OpenAccountRequest{
		Pool:          id,
		Owner:         owner,
		Commitment:    cm,
		EncryptionKey: key,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeAccount(w, r, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	owner, err := shielded.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("owner: %v", err))
		return
	}
	acct, err := s.svc.GetAccount(r.Context(), id, owner, who)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeAccount(w, r, http.StatusOK, acct)
}

func (s *Server) writeAccount(w http.ResponseWriter, r *http.Request, status int, acct *account.PrivacyAccount) {
	p, err := s.svc.GetPool(r.Context(), acct.Pool)
	if err != nil {
		writeError(w, err)
		return
	}
	alg, err := account.ForMode(p.BalanceMode)
	if err != nil {
		writeError(w, poolerr.Wrap(poolerr.CodeInternal, err, "balance mode"))
		return
	}
	writeJSON(w, status, NewAccountView(acct, alg))
}

func (s *Server) handleShield(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req ShieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	rcpt, err := s.svc.Shield(r.Context(), pool.ShieldRequest{Pool: id, Owner: owner, Amount: req.Amount})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// TransferResponse acknowledges a committed transfer.
type TransferResponse struct {
	Pool      shielded.Digest  `json:"pool"`
	Sender    shielded.Address `json:"sender"`
	Recipient shielded.Address `json:"recipient"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	sender, ok := caller(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	recipient, err := shielded.ParseAddress(req.Recipient)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	prf, err := hex.DecodeString(req.Proof)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("proof: %v", err))
		return
	}

	tr := pool.PlainTransfer(id, sender, recipient, req.Amount, prf)
	if (req.Debit == "") != (req.Credit == "") {
		writeBadRequest(w, "debit and credit must be sent together")
		return
	}
	if req.Debit != "" {
		if tr.Debit, err = decodeBlob(req.Debit); err != nil {
			writeBadRequest(w, fmt.Sprintf("debit: %v", err))
			return
		}
		if tr.Credit, err = decodeBlob(req.Credit); err != nil {
			writeBadRequest(w, fmt.Sprintf("credit: %v", err))
			return
		}
	}
	if err := s.svc.Transfer(r.Context(), tr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Pool: id, Sender: sender, Recipient: recipient})
}

func (s *Server) handleUnshield(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req UnshieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	var recipient shielded.Address
	if req.Recipient != "" {
		var err error
		if recipient, err = shielded.ParseAddress(req.Recipient); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	n, err := shielded.ParseDigest(req.Nullifier)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	prf, err := hex.DecodeString(req.Proof)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("proof: %v", err))
		return
	}
	rcpt, err := s.svc.Unshield(r.Context(), pool.UnshieldRequest{
		Pool:      id,
		Owner:     owner,
		Recipient: recipient,
		Amount:    req.Amount,
		Nullifier: n,
		Proof:     prf,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	n, ok := digestParam(w, r, "nullifier")
	if !ok {
		return
	}
	used, err := s.svc.IsNullifierUsed(r.Context(), id, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NullifierStatus{Nullifier: n.String(), Used: used})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	id, ok := digestParam(w, r, "id")
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req SetFeeRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.SetFee(r.Context(), id, who, req.FeeBPS)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := digestParam(w, r, "id")
		if !ok {
			return
		}
		who, ok := caller(w, r)
		if !ok {
			return
		}
		op := s.svc.Unpause
		if paused {
			op = s.svc.Pause
		}
		p, err := op(r.Context(), id, who)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := shielded.ParseAddress(req.Address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.funder.Fund(r.Context(), addr, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("address", addr.String()).Uint64("amount", req.Amount).Msg("faucet credited")
	writeJSON(w, http.StatusOK, FaucetResponse{Address: addr.String(), Amount: req.Amount})
}
