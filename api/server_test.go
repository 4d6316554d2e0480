package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokenmart/common"
	"tokenmart/custody"
	"tokenmart/fees"
	"tokenmart/ledger"
	"tokenmart/market"
	"tokenmart/oracle"
	"tokenmart/royalty"
	"tokenmart/storage"
)

type testEnv struct {
	server *Server
	router http.Handler
	deeds  *custody.MemoryDeeds
	bank   *custody.MemoryBank
	admin  ethcommon.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	admin := ethcommon.HexToAddress("0x00000000000000000000000000000000000000A0")
	owner := ethcommon.HexToAddress("0x00000000000000000000000000000000000000A9")
	kv := storage.NewKVStore(storage.NewMemDB())
	store := market.NewStore(kv)

	deeds := custody.NewMemoryDeeds()
	tokens := custody.NewMemoryTokens()
	bank := custody.NewMemoryBank()

	manual := oracle.NewManualOracle()
	require.NoError(t, manual.Set(big.NewInt(200_000_000_000), 8, time.Now()))

	led, err := ledger.NewLedger(kv, admin)
	require.NoError(t, err)

	calc, err := fees.NewCalculator(fees.Config{
		FeeRecipient:    ethcommon.HexToAddress("0x00000000000000000000000000000000000000AF"),
		FeeBps:          250,
		MaxFeeBps:       1_000,
		MinFeeUSD:       big.NewInt(2000),
		MaxRoyaltyBps:   1_000,
		StaleSeconds:    3_600,
		MaxStaleSeconds: 86_400,
		RiskFactorBps:   10_500,
	}, manual, royalty.NewRegistry(), led)
	require.NoError(t, err)

	listings := market.NewListingEngine(store, deeds, bank, led, calc)
	auctions := market.NewAuctionEngine(store, deeds, bank, led, calc, owner)
	orders := market.NewOrderBookEngine(store, tokens, bank, led, calc)
	pauses := common.NewSwitchboard()
	listings.SetPauses(pauses)
	auctions.SetPauses(pauses)
	orders.SetPauses(pauses)
	for _, module := range []ethcommon.Address{
		listings.ModuleAddress(), auctions.ModuleAddress(), orders.ModuleAddress(),
	} {
		require.NoError(t, led.Authorize(admin, module))
	}

	server := NewServer(Deps{
		Listings: listings,
		Auctions: auctions,
		Orders:   orders,
		Ledger:   led,
		Calc:     calc,
		Oracle:   manual,
		Pauses:   pauses,
		Admin:    admin,
	})
	return &testEnv{server: server, router: server.Router(), deeds: deeds, bank: bank, admin: admin}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestListingRoundTripOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	seller := "0x00000000000000000000000000000000000000B1"
	buyer := "0x00000000000000000000000000000000000000B2"
	collection := "0x00000000000000000000000000000000000000C0"

	asset := custody.AssetRef{Collection: ethcommon.HexToAddress(collection), TokenID: big.NewInt(1)}
	require.NoError(t, env.deeds.Mint(asset, ethcommon.HexToAddress(seller)))
	require.NoError(t, env.deeds.Approve(asset, ethcommon.HexToAddress(seller), env.server.listings.ModuleAddress()))
	require.NoError(t, env.bank.Deposit(ethcommon.HexToAddress(buyer), big.NewInt(100)))

	rec := env.do(t, http.MethodPost, "/v1/listings", map[string]string{
		"seller":     seller,
		"collection": collection,
		"tokenId":    "1",
		"price":      "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created idResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, uint64(1), created.ID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/listings/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/v1/listings/%d/buy", created.ID), map[string]string{
		"buyer":   buyer,
		"payment": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/ledger/"+buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record ledger.UserRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, uint64(1), record.FixedPricePurchases)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/listings/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/listings", map[string]string{
		"seller":     "not-an-address",
		"collection": "0x00000000000000000000000000000000000000C0",
		"tokenId":    "1",
		"price":      "100",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Non-administrator hitting the pause surface.
	rec = env.do(t, http.MethodPost, "/v1/admin/pause", map[string]string{
		"caller": "0x00000000000000000000000000000000000000B9",
		"module": "listing",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPausedModuleAnswersUnavailable(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/pause", map[string]string{
		"caller": env.admin.Hex(),
		"module": "listing",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/listings", map[string]string{
		"seller":     "0x00000000000000000000000000000000000000B1",
		"collection": "0x00000000000000000000000000000000000000C0",
		"tokenId":    "1",
		"price":      "100",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminFeePolicyStrictNoOp(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/fees", map[string]any{
		"caller": env.admin.Hex(),
		"feeBps": 300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Writing the same value again violates the strict no-op policy.
	rec = env.do(t, http.MethodPost, "/v1/admin/fees", map[string]any{
		"caller": env.admin.Hex(),
		"feeBps": 300,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
