package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"daotreasury/crypto"
	"daotreasury/native/treasury"
	"daotreasury/observability"
	"daotreasury/services/treasuryd/journal"
)

const maxBodyBytes = 1 << 16

// Journal is the read side of the event journal.
type Journal interface {
	ListEvents(ctx context.Context, eventType string, limit int) ([]journal.Event, error)
	ListPayouts(ctx context.Context, status string, limit int) ([]journal.PayoutRecord, error)
}

// Config wires the server dependencies.
type Config struct {
	Engine    *treasury.Engine
	Journal   Journal
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
	// Now supplies the time passed to time-gated ledger operations.
	Now func() time.Time
}

// Server exposes the treasury over HTTP.
type Server struct {
	engine  *treasury.Engine
	journal Journal
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// New validates cfg and builds a server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		engine:  cfg.Engine,
		journal: cfg.Journal,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		now:     now,
	}, nil
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/treasury", s.handleSummary)
		v1.Get("/members/{address}", s.handleMember)
		v1.Get("/proposals/{id}", s.handleProposal)
		v1.Get("/proposals/{id}/votes/{address}", s.handleVote)
		v1.Get("/events", s.handleEvents)
		v1.Get("/payouts", s.handlePayouts)

		v1.Group(func(w chi.Router) {
			w.Use(s.auth.Middleware)
			w.Use(s.limiter.Middleware("write"))
			w.Post("/invest", s.handleInvest)
			w.Post("/redeem", s.handleRedeem)
			w.Post("/transfer", s.handleTransfer)
			w.Post("/proposals", s.handleCreateProposal)
			w.Post("/proposals/{id}/vote", s.handleCastVote)
			w.Post("/proposals/{id}/execute", s.handleExecute)
		})
	})

	return otelhttp.NewHandler(r, "treasuryd")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records request metrics labelled by the matched route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		observability.HTTP().Observe(route, r.Method, recorder.status, time.Since(start))
	})
}

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, problem{Error: kind, Message: message})
}

// statusFor maps a ledger rejection onto an HTTP status.
func statusFor(kind treasury.ErrorKind) int {
	switch kind {
	case treasury.KindNotMember, treasury.KindNotAdmin:
		return http.StatusForbidden
	case treasury.KindProposalNotFound:
		return http.StatusNotFound
	case treasury.KindInvalidAmount, treasury.KindInvalidAddress, treasury.KindAmountOverflow, treasury.KindInvalidParams:
		return http.StatusBadRequest
	case treasury.KindPayoutFailed:
		return http.StatusBadGateway
	case treasury.KindWindowClosed, treasury.KindInsufficientShares, treasury.KindAmountExceedsFunds,
		treasury.KindVotingClosed, treasury.KindAlreadyExecuted, treasury.KindDuplicateVote,
		treasury.KindVotingStillOpen, treasury.KindQuorumNotMet, treasury.KindInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind, ok := treasury.KindOf(err)
	if !ok {
		s.logger.Error("treasuryd: request failed", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}
	writeProblem(w, statusFor(kind), string(kind), err.Error())
}

func badRequest(w http.ResponseWriter, kind treasury.ErrorKind, message string) {
	writeProblem(w, http.StatusBadRequest, string(kind), message)
}

func parseAmount(raw string) (*big.Int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	return amount, ok
}

func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		badRequest(w, "InvalidRequest", "invalid request body")
		return false
	}
	return true
}

func formatAddress(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.MemberAddress(raw).String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type summaryResponse struct {
	Admin             string `json:"admin"`
	ContributionEnd   string `json:"contributionEnd"`
	VoteWindowSeconds int64  `json:"voteWindowSeconds"`
	QuorumPercent     uint64 `json:"quorumPercent"`
	TotalShares       string `json:"totalShares"`
	AvailableFunds    string `json:"availableFunds"`
	ProposalCount     uint64 `json:"proposalCount"`
	Sequence          uint64 `json:"sequence"`
	TotalInvested     string `json:"totalInvested"`
	TotalRedeemed     string `json:"totalRedeemed"`
	TotalDisbursed    string `json:"totalDisbursed"`
	ContributionsOpen bool   `json:"contributionsOpen"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.engine.Summary()
	writeJSON(w, http.StatusOK, summaryResponse{
		Admin:             formatAddress(sum.Admin),
		ContributionEnd:   formatTime(sum.Params.ContributionEnd),
		VoteWindowSeconds: int64(sum.Params.VoteWindow / time.Second),
		QuorumPercent:     sum.Params.QuorumPercent,
		TotalShares:       sum.TotalShares.String(),
		AvailableFunds:    sum.AvailableFunds.String(),
		ProposalCount:     sum.ProposalCount,
		Sequence:          sum.Sequence,
		TotalInvested:     sum.Stats.Invested.String(),
		TotalRedeemed:     sum.Stats.Redeemed.String(),
		TotalDisbursed:    sum.Stats.Disbursed.String(),
		ContributionsOpen: s.now().Before(sum.Params.ContributionEnd),
	})
}

type memberResponse struct {
	Address string `json:"address"`
	Shares  string `json:"shares"`
	Member  bool   `json:"member"`
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeMemberAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, treasury.KindInvalidAddress, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{
		Address: formatAddress(addr),
		Shares:  s.engine.Balance(addr).String(),
		Member:  s.engine.IsMember(addr),
	})
}

type proposalResponse struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	Proposer   string `json:"proposer"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient"`
	Votes      string `json:"votes"`
	CreatedAt  string `json:"createdAt"`
	Deadline   string `json:"deadline"`
	Executed   bool   `json:"executed"`
	ExecutedAt string `json:"executedAt,omitempty"`
	Open       bool   `json:"open"`
}

func (s *Server) proposalView(p *treasury.Proposal) proposalResponse {
	return proposalResponse{
		ID:         p.ID,
		Name:       p.Name,
		Proposer:   formatAddress(p.Proposer),
		Amount:     p.Amount.String(),
		Recipient:  formatAddress(p.Recipient),
		Votes:      p.Votes.String(),
		CreatedAt:  formatTime(p.CreatedAt),
		Deadline:   formatTime(p.Deadline),
		Executed:   p.Executed,
		ExecutedAt: formatTime(p.ExecutedAt),
		Open:       p.Open(s.now()),
	}
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "InvalidRequest", "proposal id must be an unsigned integer")
		return
	}
	p, err := s.engine.Proposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.proposalView(p))
}

type voteResponse struct {
	ProposalID uint64 `json:"proposalId"`
	Address    string `json:"address"`
	Voted      bool   `json:"voted"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "InvalidRequest", "proposal id must be an unsigned integer")
		return
	}
	addr, err := crypto.DecodeMemberAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, treasury.KindInvalidAddress, err.Error())
		return
	}
	if _, err := s.engine.Proposal(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{ProposalID: id, Address: formatAddress(addr), Voted: s.engine.HasVoted(addr, id)})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "journal disabled")
		return
	}
	events, err := s.journal.ListEvents(r.Context(), r.URL.Query().Get("type"), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type payoutResponse struct {
	Sequence   uint64  `json:"sequence"`
	Reason     string  `json:"reason"`
	ProposalID *uint64 `json:"proposalId,omitempty"`
	Recipient  string  `json:"recipient"`
	Amount     string  `json:"amount"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "journal disabled")
		return
	}
	rows, err := s.journal.ListPayouts(r.Context(), r.URL.Query().Get("status"), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]payoutResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, payoutResponse{
			Sequence:   row.Sequence,
			Reason:     row.Reason,
			ProposalID: row.ProposalID,
			Recipient:  row.Recipient,
			Amount:     row.Amount,
			Status:     row.Status,
			Error:      row.Error,
			CreatedAt:  formatTime(row.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": out})
}

type amountRequest struct {
	Amount string `json:"amount"`
	To     string `json:"to,omitempty"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Shares  string `json:"shares"`
}

func (s *Server) balanceView(addr [20]byte) balanceResponse {
	return balanceResponse{Address: formatAddress(addr), Shares: s.engine.Balance(addr).String()}
}

func (s *Server) readAmount(w http.ResponseWriter, r *http.Request) (*amountRequest, *big.Int, bool) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return nil, nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		badRequest(w, treasury.KindInvalidAmount, "amount must be a decimal integer")
		return nil, nil, false
	}
	return &req, amount, true
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	_, amount, ok := s.readAmount(w, r)
	if !ok {
		return
	}
	if err := s.engine.Invest(r.Context(), caller, amount, s.now()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceView(caller))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	_, amount, ok := s.readAmount(w, r)
	if !ok {
		return
	}
	if err := s.engine.Redeem(r.Context(), caller, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceView(caller))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	req, amount, ok := s.readAmount(w, r)
	if !ok {
		return
	}
	to, err := crypto.DecodeMemberAddress(req.To)
	if err != nil {
		badRequest(w, treasury.KindInvalidAddress, err.Error())
		return
	}
	if err := s.engine.Transfer(r.Context(), caller, amount, to); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceView(caller))
}

type createProposalRequest struct {
	Name      string `json:"name"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req createProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		badRequest(w, treasury.KindInvalidAmount, "amount must be a decimal integer")
		return
	}
	recipient, err := crypto.DecodeMemberAddress(req.Recipient)
	if err != nil {
		badRequest(w, treasury.KindInvalidAddress, err.Error())
		return
	}
	id, err := s.engine.CreateProposal(r.Context(), caller, req.Name, amount, recipient, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.engine.Proposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.proposalView(p))
}

func (s *Server) proposalAction(w http.ResponseWriter, r *http.Request, act func(ctx context.Context, caller [20]byte, id uint64, now time.Time) error) {
	caller, _ := callerFrom(r.Context())
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "InvalidRequest", "proposal id must be an unsigned integer")
		return
	}
	if err := act(r.Context(), caller, id, s.now()); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.engine.Proposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.proposalView(p))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	s.proposalAction(w, r, s.engine.Vote)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.proposalAction(w, r, s.engine.Execute)
}

// Serve runs the HTTP server on listen until ctx is cancelled, then shuts down
// within timeout.
func (s *Server) Serve(ctx context.Context, listen string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("treasuryd listening", "listen", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
