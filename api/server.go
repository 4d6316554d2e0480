package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenmart/common"
	"tokenmart/fees"
	"tokenmart/ledger"
	"tokenmart/market"
	"tokenmart/oracle"
)

// ethAddress shortens handler helper signatures.
type ethAddress = ethcommon.Address

// Server exposes the marketplace operations over HTTP. Caller identity is a
// request field; the engines and the ledger enforce who may do what.
type Server struct {
	listings *market.ListingEngine
	auctions *market.AuctionEngine
	orders   *market.OrderBookEngine
	ledger   *ledger.Ledger
	calc     *fees.Calculator
	oracle   *oracle.ManualOracle
	pauses   *common.Switchboard
	admin    ethcommon.Address
	log      *slog.Logger

	rateRPS   float64
	rateBurst int
}

// Deps carries the collaborators wired by the daemon.
type Deps struct {
	Listings *market.ListingEngine
	Auctions *market.AuctionEngine
	Orders   *market.OrderBookEngine
	Ledger   *ledger.Ledger
	Calc     *fees.Calculator
	Oracle   *oracle.ManualOracle
	Pauses   *common.Switchboard
	Admin    ethcommon.Address
	Log      *slog.Logger

	RateLimitRPS   float64
	RateLimitBurst int
}

// NewServer constructs the HTTP surface.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		listings:  deps.Listings,
		auctions:  deps.Auctions,
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		calc:      deps.Calc,
		oracle:    deps.Oracle,
		pauses:    deps.Pauses,
		admin:     deps.Admin,
		log:       log,
		rateRPS:   deps.RateLimitRPS,
		rateBurst: deps.RateLimitBurst,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if s.rateRPS > 0 && s.rateBurst > 0 {
		r.Use(rateLimit(s.rateRPS, s.rateBurst))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/listings", func(r chi.Router) {
			r.Post("/", s.handleCreateListing)
			r.Get("/{id}", s.handleGetListing)
			r.Post("/{id}/buy", s.handleBuyListing)
			r.Post("/{id}/price", s.handleListingPrice)
			r.Post("/{id}/cancel", s.handleCancelListing)
			r.Post("/{id}/withdraw", s.handleWithdrawListing)
		})
		r.Route("/auctions", func(r chi.Router) {
			r.Post("/", s.handleCreateAuction)
			r.Get("/frozen", s.handleFrozenValue)
			r.Get("/{id}", s.handleGetAuction)
			r.Post("/{id}/bids", s.handleBid)
			r.Post("/{id}/cancel", s.handleCancelAuction)
			r.Post("/{id}/complete", s.handleCompleteAuction)
			r.Post("/{id}/withdraw", s.handleWithdrawAuction)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/{id}", s.handleGetOrder)
			r.Post("/{id}/buy", s.handleBuyOrder)
			r.Post("/{id}/price", s.handleOrderPrice)
			r.Post("/{id}/cancel", s.handleCancelOrder)
			r.Post("/{id}/withdraw", s.handleWithdrawOrder)
		})
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/accounts", s.handleAccounts)
			r.Get("/stats", s.handleStats)
			r.Get("/{address}", s.handleRecord)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/blacklist", s.handleBlacklist)
			r.Post("/authorize", s.handleAuthorize)
			r.Post("/revoke", s.handleRevoke)
			r.Post("/fees", s.handleFeePolicy)
			r.Post("/oracle", s.handleOracleOverride)
			r.Post("/withdraw", s.handleOwnerWithdraw)
		})
	})
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.log.Error("encode response", "error", err)
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrInvalidArgument),
		errors.Is(err, market.ErrArithmeticOverflow),
		errors.Is(err, fees.ErrInvalidArgument),
		errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrPermissionDenied),
		errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, ledger.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrNotOnSale), errors.Is(err, market.ErrNotOpen):
		status = http.StatusConflict
	case errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrInsufficientCustody):
		status = http.StatusPaymentRequired
	case errors.Is(err, fees.ErrPriceTooStale), errors.Is(err, common.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, market.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errors.Join(market.ErrInvalidArgument, err)
	}
	return nil
}

func parseAddress(raw string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, errors.Join(market.ErrInvalidArgument, errors.New("invalid address "+raw))
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, errors.Join(market.ErrInvalidArgument, errors.New("invalid amount "+raw))
	}
	return value, nil
}
