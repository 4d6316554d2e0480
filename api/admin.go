package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"tokenmart/market"
)

// requireAdmin rejects admin-surface calls whose caller field is not the
// configured administrator. The ledger checks its own administrator again;
// this guard covers the surfaces that have no identity of their own, like
// the pause switchboard and the fee setters.
func (s *Server) requireAdmin(raw string) error {
	caller, err := parseAddress(raw)
	if err != nil {
		return err
	}
	if caller != s.admin {
		return fmt.Errorf("%w: administrator required", market.ErrPermissionDenied)
	}
	return nil
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.requireAdmin(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.pauses.Pause(req.Module)
	s.log.Warn("module paused", "module", req.Module)
	s.writeJSON(w, http.StatusOK, map[string]string{"module": req.Module, "state": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.requireAdmin(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.pauses.Resume(req.Module)
	s.log.Info("module resumed", "module", req.Module)
	s.writeJSON(w, http.StatusOK, map[string]string{"module": req.Module, "state": "running"})
}

type blacklistRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	Seller  bool   `json:"seller"`
	Royalty bool   `json:"royalty"`
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ledger.SetBlacklist(caller, account, req.Seller, req.Royalty); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Warn("blacklist updated", "account", account.Hex(), "seller", req.Seller, "royalty", req.Royalty)
	s.writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex()})
}

type allowListRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.allowListOp(w, r, s.ledger.Authorize)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.allowListOp(w, r, s.ledger.Revoke)
}

func (s *Server) allowListOp(w http.ResponseWriter, r *http.Request, op func(caller, account ethAddress) error) {
	var req allowListRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := op(caller, account); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex()})
}

// feePolicyRequest updates one knob per call; unset fields are skipped. The
// setters keep the strict no-op rejection of the underlying calculator.
type feePolicyRequest struct {
	Caller          string  `json:"caller"`
	FeeBps          *uint32 `json:"feeBps,omitempty"`
	MinFeeUSD       *string `json:"minFeeUsd,omitempty"`
	FeeRecipient    *string `json:"feeRecipient,omitempty"`
	MaxRoyaltyBps   *uint32 `json:"maxRoyaltyBps,omitempty"`
	StaleSeconds    *int64  `json:"staleSeconds,omitempty"`
	MaxStaleSeconds *int64  `json:"maxStaleSeconds,omitempty"`
	RiskFactorBps   *uint32 `json:"riskFactorBps,omitempty"`
}

func (s *Server) handleFeePolicy(w http.ResponseWriter, r *http.Request) {
	var req feePolicyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.requireAdmin(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	applied := make([]string, 0, 7)
	apply := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			return err
		}
		applied = append(applied, name)
		return nil
	}
	var err error
	switch {
	case req.FeeBps != nil:
		err = apply("feeBps", func() error { return s.calc.SetFeePercentage(*req.FeeBps) })
	case req.MinFeeUSD != nil:
		var minFee *big.Int
		if minFee, err = parseAmount(*req.MinFeeUSD); err == nil {
			err = apply("minFeeUsd", func() error { return s.calc.SetMinFeeUSD(minFee) })
		}
	case req.FeeRecipient != nil:
		var recipient ethAddress
		if recipient, err = parseAddress(*req.FeeRecipient); err == nil {
			err = apply("feeRecipient", func() error { return s.calc.SetFeeRecipient(recipient) })
		}
	case req.MaxRoyaltyBps != nil:
		err = apply("maxRoyaltyBps", func() error { return s.calc.SetMaxRoyaltyPercentage(*req.MaxRoyaltyBps) })
	case req.StaleSeconds != nil:
		err = apply("staleSeconds", func() error { return s.calc.SetStaleThreshold(*req.StaleSeconds) })
	case req.MaxStaleSeconds != nil:
		err = apply("maxStaleSeconds", func() error { return s.calc.SetMaxStaleThreshold(*req.MaxStaleSeconds) })
	case req.RiskFactorBps != nil:
		err = apply("riskFactorBps", func() error { return s.calc.SetRiskFactor(*req.RiskFactorBps) })
	default:
		err = errors.Join(market.ErrInvalidArgument, errors.New("no fee policy field supplied"))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("fee policy updated", "fields", applied)
	s.writeJSON(w, http.StatusOK, map[string]any{"updated": applied})
}

type oracleOverrideRequest struct {
	Caller   string `json:"caller"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// handleOracleOverride feeds a manual quote, stamped now. Operators use it
// when the upstream feed is down and the staleness hard stop would otherwise
// halt settlement.
func (s *Server) handleOracleOverride(w http.ResponseWriter, r *http.Request) {
	var req oracleOverrideRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.requireAdmin(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.oracle.Set(price, req.Decimals, time.Now()); err != nil {
		s.writeError(w, errors.Join(market.ErrInvalidArgument, err))
		return
	}
	s.log.Warn("oracle price overridden", "price", price.String(), "decimals", req.Decimals)
	s.writeJSON(w, http.StatusOK, map[string]string{"price": price.String()})
}

type ownerWithdrawRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

func (s *Server) handleOwnerWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ownerWithdrawRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := s.auctions.WithdrawOwnerBalance(caller, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("owner balance withdrawn", "to", to.Hex(), "amount", amount.String())
	s.writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}
