package rewardd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"capsupply/core"
	coreerrors "capsupply/core/errors"
	"capsupply/native/access"
	"capsupply/native/stream"
	"capsupply/services/rewardd/audit"
)

const maxBodyBytes = 1 << 16

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Engine    *core.Engine
	Auth      AuthConfig
	RateLimit RateLimitConfig
	// Audit is optional; without it /admin/audit answers 404.
	Audit  *audit.Store
	Logger *slog.Logger
}

// Server exposes the engine over HTTP.
type Server struct {
	engine  *core.Engine
	auth    *Authenticator
	limiter *RateLimiter
	audit   *audit.Store
	logger  *slog.Logger
	router  http.Handler
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("rewardd: engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		auth:    NewAuthenticator(cfg.Auth, cfg.Logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		audit:   cfg.Audit,
		logger:  cfg.Logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(observe("engine", "GET /v1/phase", s.logger)).Get("/phase", s.handlePhase)
		v1.With(observe("supply", "GET /v1/supply", s.logger)).Get("/supply", s.handleSupply)
		v1.With(observe("stream", "GET /v1/streams/{stream}/principals/{principal}", s.logger)).
			Get("/streams/{stream}/principals/{principal}", s.handleStreamSummary)
		v1.With(observe("distributor", "GET /v1/distributor/principals/{principal}", s.logger)).
			Get("/distributor/principals/{principal}", s.handleDistributorSummary)

		v1.Group(func(auth chi.Router) {
			auth.Use(s.auth.Middleware)
			auth.With(s.route("stream", "POST /v1/streams/{stream}/positions")...).
				Post("/streams/{stream}/positions", s.handleOpenPosition)
			auth.With(s.route("stream", "POST /v1/streams/{stream}/positions/{id}/close")...).
				Post("/streams/{stream}/positions/{id}/close", s.handleClosePosition)
			auth.With(s.route("stream", "POST /v1/streams/{stream}/claim")...).
				Post("/streams/{stream}/claim", s.handleStreamClaim)
			auth.With(s.route("distributor", "POST /v1/distributor/principals")...).
				Post("/distributor/principals", s.handleRegister)
			auth.With(s.route("distributor", "PUT /v1/distributor/principals/{principal}/activity")...).
				Put("/distributor/principals/{principal}/activity", s.handleActivity)
			auth.With(s.route("distributor", "POST /v1/distributor/claim")...).
				Post("/distributor/claim", s.handleDistributorClaim)
			auth.With(s.route("supply", "POST /v1/burn")...).Post("/burn", s.handleBurn)
			auth.With(s.route("supply", "POST /v1/listings/burn")...).Post("/listings/burn", s.handleListingBurn)
			auth.With(s.route("nft", "POST /v1/nft/approve")...).Post("/nft/approve", s.handleNFTApprove)
			auth.With(s.route("nft", "POST /v1/nft/transfer")...).Post("/nft/transfer", s.handleNFTTransfer)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.auth.Middleware)
		admin.With(s.route("admin", "POST /admin/pause")...).Post("/pause", s.handlePause(true))
		admin.With(s.route("admin", "POST /admin/resume")...).Post("/resume", s.handlePause(false))
		admin.With(s.route("admin", "POST /admin/roles")...).Post("/roles", s.handleRoles)
		admin.With(s.route("admin", "POST /admin/distributor/fund")...).Post("/distributor/fund", s.handleFund)
		admin.With(s.route("admin", "POST /admin/listing-fee")...).Post("/listing-fee", s.handleListingFee)
		admin.With(s.route("admin", "POST /admin/nft/mint")...).Post("/nft/mint", s.handleNFTMint)
		admin.With(s.route("admin", "GET /admin/audit")...).Get("/audit", s.handleAudit)
	})
	return r
}

func (s *Server) route(module, name string) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{observe(module, name, s.logger), s.limiter.Middleware(module)}
}

type phaseResponse struct {
	Index                int    `json:"index"`
	Active               bool   `json:"active"`
	Rate                 string `json:"rate"`
	Start                string `json:"start"`
	End                  string `json:"end"`
	PhaseDurationSeconds int64  `json:"phaseDurationSeconds"`
	Phases               int    `json:"phases"`
	Now                  string `json:"now"`
}

type streamTotalsResponse struct {
	Stream          string `json:"stream"`
	ActiveAmount    string `json:"activeAmount"`
	Claimed         string `json:"claimed"`
	Positions       int    `json:"positions"`
	ActivePositions int    `json:"activePositions"`
	Principals      int    `json:"principals"`
	Liability       string `json:"liabilityPerSizeUnit"`
}

type supplyResponse struct {
	Cap          string                 `json:"cap"`
	Issued       string                 `json:"issued"`
	Burned       string                 `json:"burned"`
	Circulating  string                 `json:"circulating"`
	Headroom     string                 `json:"headroom"`
	ListingFee   string                 `json:"listingFee"`
	ListingCount uint64                 `json:"listingCount"`
	PoolBalance  string                 `json:"poolBalance"`
	Streamed     string                 `json:"distributorStreamed"`
	Paused       bool                   `json:"paused"`
	Streams      []streamTotalsResponse `json:"streams"`
}

type positionResponse struct {
	ID              uint64 `json:"id"`
	Amount          string `json:"amount"`
	OpenedAt        uint64 `json:"openedAt"`
	DurationSeconds uint64 `json:"durationSeconds"`
	MultiplierBps   uint32 `json:"multiplierBps"`
	Claimed         string `json:"claimed"`
	Accrued         string `json:"accrued"`
	Active          bool   `json:"active"`
	ClosedAt        uint64 `json:"closedAt,omitempty"`
}

type streamSummaryResponse struct {
	Stream       string             `json:"stream"`
	Principal    string             `json:"principal"`
	ActiveAmount string             `json:"activeAmount"`
	Pending      string             `json:"pending"`
	Claimed      string             `json:"claimed"`
	Positions    []positionResponse `json:"positions"`
}

type distributorResponse struct {
	Principal  string `json:"principal"`
	Registered bool   `json:"registered"`
	Score      string `json:"score"`
	Pending    string `json:"pending"`
	Claimed    string `json:"claimed"`
	LastUpdate uint64 `json:"lastUpdate"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "paused": s.engine.Paused()})
}

func (s *Server) handlePhase(w http.ResponseWriter, _ *http.Request) {
	info := s.engine.Phase()
	writeJSON(w, http.StatusOK, phaseResponse{
		Index:                info.Index,
		Active:               info.Active,
		Rate:                 amountString(info.Rate),
		Start:                info.Start.UTC().Format(time.RFC3339),
		End:                  info.End.UTC().Format(time.RFC3339),
		PhaseDurationSeconds: int64(info.PhaseDuration / time.Second),
		Phases:               info.Phases,
		Now:                  info.Now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.SupplyStats()
	dist := s.engine.DistributorStats()
	liability := s.engine.StreamLiability()
	resp := supplyResponse{
		Cap:          amountString(stats.Cap),
		Issued:       amountString(stats.Issued),
		Burned:       amountString(stats.Burned),
		Circulating:  amountString(stats.Circulating),
		Headroom:     amountString(stats.Headroom),
		ListingFee:   amountString(stats.ListingFee),
		ListingCount: stats.ListingCount,
		PoolBalance:  amountString(dist.PoolBalance),
		Streamed:     amountString(dist.TotalStreamed),
		Paused:       s.engine.Paused(),
	}
	for _, totals := range s.engine.StreamTotals() {
		resp.Streams = append(resp.Streams, streamTotalsResponse{
			Stream:          totals.Stream,
			ActiveAmount:    amountString(totals.ActiveAmount),
			Claimed:         amountString(totals.Claimed),
			Positions:       totals.Positions,
			ActivePositions: totals.ActivePositions,
			Principals:      totals.Principals,
			Liability:       amountString(liability[totals.Stream]),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamSummary(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathPrincipal(w, r)
	if !ok {
		return
	}
	summary, err := s.engine.StreamSummary(chi.URLParam(r, "stream"), principal)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSummary(summary))
}

func (s *Server) handleDistributorSummary(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathPrincipal(w, r)
	if !ok {
		return
	}
	view := s.engine.DistributorSummary(principal)
	writeJSON(w, http.StatusOK, distributorResponse{
		Principal:  principal.Hex(),
		Registered: view.Registered,
		Score:      amountString(view.Account.Score),
		Pending:    amountString(view.Pending),
		Claimed:    amountString(view.Account.Claimed),
		LastUpdate: view.Account.LastUpdate,
	})
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal       string `json:"principal"`
		Amount          string `json:"amount"`
		DurationSeconds uint64 `json:"durationSeconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	principal, err := parsePrincipal(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	duration := time.Duration(req.DurationSeconds) * time.Second
	id, err := s.engine.OpenPosition(caller(r), chi.URLParam(r, "stream"), principal, amount, duration)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"positionId": id})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "position id must be an unsigned integer")
		return
	}
	var req struct {
		Principal string `json:"principal"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	principal, err := parsePrincipal(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	withdrawal, err := s.engine.ClosePosition(caller(r), chi.URLParam(r, "stream"), principal, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positionId": withdrawal.PositionID,
		"returned":   amountString(withdrawal.Returned),
		"penalty":    amountString(withdrawal.Penalty),
		"early":      withdrawal.Early,
		"accrued":    amountString(withdrawal.Accrued),
	})
}

func (s *Server) handleStreamClaim(w http.ResponseWriter, r *http.Request) {
	amount, err := s.engine.ClaimStream(caller(r), chi.URLParam(r, "stream"))
	writeClaim(w, amount, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
		Score     string `json:"score"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	principal, err := parsePrincipal(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	score, err := parseAmount(req.Score)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.RegisterPrincipal(caller(r), principal, score); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"principal": principal.Hex(), "score": score.String()})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	principal, ok := pathPrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		Score string `json:"score"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	score, err := parseAmount(req.Score)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.UpdateActivity(caller(r), principal, score); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": principal.Hex(), "score": score.String()})
}

func (s *Server) handleDistributorClaim(w http.ResponseWriter, r *http.Request) {
	amount, err := s.engine.ClaimDistributor(caller(r))
	writeClaim(w, amount, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.Burn(caller(r), amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"burned": amount.String()})
}

func (s *Server) handleListingBurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
		Tag    string `json:"tag"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	receipt, err := s.engine.BurnForListing(caller(r), amount, req.Tag)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":          receipt.Tag,
		"tagDigest":    fmt.Sprintf("%x", receipt.TagDigest),
		"amount":       amountString(receipt.Amount),
		"listingCount": receipt.ListingCount,
	})
}

func (s *Server) handleNFTApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID uint64 `json:"tokenId"`
		Buyer   string `json:"buyer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	buyer, err := parsePrincipal(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.ApproveNFT(caller(r), req.TokenID, buyer); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokenId": req.TokenID, "buyer": buyer.Hex()})
}

// handleNFTTransfer completes a purchase: the caller is the approved buyer and
// pays from its own balance.
func (s *Server) handleNFTTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID uint64 `json:"tokenId"`
		Payment string `json:"payment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	buyer := caller(r)
	if err := s.engine.TransferNFT(buyer, req.TokenID, payment); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokenId": req.TokenID, "owner": buyer.Hex()})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if paused {
			err = s.engine.Pause(caller(r))
		} else {
			err = s.engine.Resume(caller(r))
		}
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": s.engine.Paused()})
	}
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
		Role      string `json:"role"`
		Grant     bool   `json:"grant"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	principal, err := parsePrincipal(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Grant {
		err = s.engine.GrantRole(caller(r), principal, role)
	} else {
		err = s.engine.RevokeRole(caller(r), principal, role)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal": principal.Hex(),
		"role":      role.String(),
		"granted":   s.engine.Roles().HasRole(principal, role),
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.FundPool(caller(r), amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"poolBalance": amountString(s.engine.DistributorStats().PoolBalance)})
}

func (s *Server) handleListingFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fee string `json:"fee"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.engine.SetListingFee(caller(r), fee); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"listingFee": fee.String()})
}

func (s *Server) handleNFTMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := parsePrincipal(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id, err := s.engine.MintNFT(caller(r), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"tokenId": id, "owner": owner.Hex()})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Roles().Require(caller(r), access.RoleAdmin); err != nil {
		writeEngineError(w, err)
		return
	}
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit log not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = parsed
	}
	records, err := s.audit.Recent(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "audit query failed")
		return
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		ev, err := record.Event()
		if err != nil {
			s.logger.Warn("skipping unreadable audit record", "id", record.ID.String(), "error", err)
			continue
		}
		out = append(out, map[string]interface{}{
			"id":         record.ID.String(),
			"type":       ev.Type,
			"attributes": ev.Attributes,
			"createdAt":  record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func renderSummary(summary stream.Summary) streamSummaryResponse {
	resp := streamSummaryResponse{
		Stream:       summary.Stream,
		Principal:    summary.Principal.Hex(),
		ActiveAmount: amountString(summary.ActiveAmount),
		Pending:      amountString(summary.Pending),
		Claimed:      amountString(summary.Claimed),
		Positions:    make([]positionResponse, 0, len(summary.Positions)),
	}
	for _, pos := range summary.Positions {
		resp.Positions = append(resp.Positions, positionResponse{
			ID:              pos.ID,
			Amount:          amountString(pos.Amount),
			OpenedAt:        pos.OpenedAt,
			DurationSeconds: pos.DurationSecs,
			MultiplierBps:   pos.MultiplierBps,
			Claimed:         amountString(pos.Claimed),
			Accrued:         amountString(pos.Accrued),
			Active:          pos.Active,
			ClosedAt:        pos.ClosedAt,
		})
	}
	return resp
}

func caller(r *http.Request) common.Address {
	principal, _ := PrincipalFromContext(r.Context())
	return principal
}

func pathPrincipal(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	principal, err := parsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return common.Address{}, false
	}
	return principal, true
}

func parsePrincipal(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid principal %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func amountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

func writeClaim(w http.ResponseWriter, amount *big.Int, err error) {
	if err != nil {
		if coreerrors.IsNoop(err) {
			writeJSON(w, http.StatusOK, map[string]string{"amount": "0", "reason": coreerrors.Classify(err).Reason})
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	class := coreerrors.Classify(err)
	writeError(w, class.Status, class.Reason, err.Error())
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]string{"error": message, "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
