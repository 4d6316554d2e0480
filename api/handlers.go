package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tokenmart/custody"
	"tokenmart/market"
)

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, market.ErrNotFound
	}
	return id, nil
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type createListingRequest struct {
	Seller     string `json:"seller"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Collection, req.TokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.listings.List(seller, asset, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("listing created", "id", id, "seller", seller.Hex())
	s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	listing, err := s.listings.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

type buyRequest struct {
	Buyer   string `json:"buyer"`
	Payment string `json:"payment"`
}

func (s *Server) handleBuyListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req buyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.listings.Buy(buyer, id, payment); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

type priceRequest struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

func (s *Server) handleListingPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.listings.ChangePrice(caller, id, price); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	s.listingCallerOp(w, r, s.listings.Cancel)
}

func (s *Server) handleWithdrawListing(w http.ResponseWriter, r *http.Request) {
	s.listingCallerOp(w, r, s.listings.WithdrawAsset)
}

func (s *Server) listingCallerOp(w http.ResponseWriter, r *http.Request, op func(caller ethAddress, id uint64) error) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := op(caller, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

type createAuctionRequest struct {
	Seller     string `json:"seller"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	StartPrice string `json:"startPrice"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Collection, req.TokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	startPrice, err := parseAmount(req.StartPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.auctions.Create(seller, asset, startPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("auction created", "id", id, "seller", seller.Hex())
	s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	auction, err := s.auctions.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auction)
}

type bidRequest struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req bidRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	bidder, err := parseAddress(req.Bidder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auctions.Bid(bidder, id, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auctions.Cancel(caller, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleCompleteAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auctions.Complete(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleWithdrawAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auctions.WithdrawAsset(caller, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleFrozenValue(w http.ResponseWriter, _ *http.Request) {
	frozen, err := s.auctions.FrozenValue()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"frozenValue": frozen.String()})
}

type createOrderRequest struct {
	Seller    string `json:"seller"`
	AssetType string `json:"assetType"`
	UnitPrice string `json:"unitPrice"`
	Quantity  uint64 `json:"quantity"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assetType, err := parseAddress(req.AssetType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	unitPrice, err := parseAmount(req.UnitPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.orders.ListOrder(seller, assetType, unitPrice, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("order created", "id", id, "seller", seller.Hex())
	s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	order, err := s.orders.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type buyOrderRequest struct {
	Buyer    string `json:"buyer"`
	Quantity uint64 `json:"quantity"`
	Payment  string `json:"payment"`
}

func (s *Server) handleBuyOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req buyOrderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.orders.Buy(buyer, id, req.Quantity, payment); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleOrderPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.orders.ChangePrice(caller, id, price); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

type quantityRequest struct {
	Caller   string `json:"caller"`
	Quantity uint64 `json:"quantity"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.orderQuantityOp(w, r, s.orders.Cancel)
}

func (s *Server) handleWithdrawOrder(w http.ResponseWriter, r *http.Request) {
	s.orderQuantityOp(w, r, s.orders.WithdrawAsset)
}

func (s *Server) orderQuantityOp(w http.ResponseWriter, r *http.Request, op func(caller ethAddress, id, quantity uint64) error) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := op(caller, id, req.Quantity); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.ledger.Record(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts, err := s.ledger.Accounts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]string, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, account.Hex())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.ledger.AggregateStatistics()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func parseAsset(collection, tokenID string) (custody.AssetRef, error) {
	addr, err := parseAddress(collection)
	if err != nil {
		return custody.AssetRef{}, err
	}
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || id.Sign() < 0 {
		return custody.AssetRef{}, market.ErrInvalidArgument
	}
	return custody.AssetRef{Collection: addr, TokenID: id}, nil
}
