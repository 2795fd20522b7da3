package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
	"levfolio/engine"
	"levfolio/gateway"
	"levfolio/ledger"
	"levfolio/market"
	"levfolio/oracle"
)

const (
	collateralAsset bank.Asset = "uETH"
	debtAsset       bank.Asset = "uUSD"
	shareAsset      bank.Asset = "lvETH"
)

var (
	engineAddr = common.BytesToAddress([]byte{0x01})
	ownerAddr  = common.BytesToAddress([]byte{0x02})
	feeAddr    = common.BytesToAddress([]byte{0x03})
	marketAddr = common.BytesToAddress([]byte{0x04})
	pairAddr   = common.BytesToAddress([]byte{0x05})
	aliceAddr  = common.BytesToAddress([]byte{0x06})
)

type fixture struct {
	book   *bank.Book
	engine *engine.Engine
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	book := bank.NewBook()
	router := oracle.NewRouter(debtAsset)
	router.SetRate(collateralAsset, big.NewRat(100, 1))

	factor := new(big.Int).Mul(big.NewInt(8), ledger.Wad())
	factor.Quo(factor, big.NewInt(10))
	mkt := market.NewMoneyMarket(book, router, marketAddr, collateralAsset, debtAsset, factor)
	pair := gateway.NewPair(book, pairAddr, collateralAsset, debtAsset, 0)

	mustMint := func(asset bank.Asset, to common.Address, amount int64) {
		if err := book.Mint(asset, to, big.NewInt(amount)); err != nil {
			t.Fatalf("mint %s: %v", asset, err)
		}
	}
	mustMint(collateralAsset, pairAddr, 1_000_000)
	mustMint(debtAsset, pairAddr, 100_000_000)
	mustMint(debtAsset, marketAddr, 100_000_000)
	pair.Sync()

	pos := &ledger.Position{
		CollateralAsset:     collateralAsset,
		DebtAsset:           debtAsset,
		ShareAsset:          shareAsset,
		FeeRateBps:          30,
		TargetLeverageRatio: new(big.Int).Mul(big.NewInt(2), ledger.Wad()),
	}
	eng := engine.NewEngine(engineAddr, ownerAddr, feeAddr, pos, book, mkt, pair, router)
	pair.Register(engineAddr, eng)
	mkt.EnterMarkets(engineAddr, []bank.Asset{collateralAsset, debtAsset})

	// Seed the position through the normal flash path.
	repay, err := pair.QuoteAmountIn(debtAsset, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("quote seed: %v", err)
	}
	prefund := new(big.Int).Add(repay, big.NewInt(1_000))
	if err := book.Mint(debtAsset, engineAddr, prefund); err != nil {
		t.Fatalf("prefund: %v", err)
	}
	if err := eng.Initialize(ownerAddr, big.NewInt(1_000), big.NewInt(50_000), big.NewInt(1_000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	srv := NewServer(eng, book, slog.Default(), 0, 0)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{book: book, engine: eng, server: ts}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPositionEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/v1/position")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["totalShares"] != "1000" {
		t.Fatalf("totalShares = %v", body["totalShares"])
	}
	if body["initialized"] != true {
		t.Fatalf("initialized = %v", body["initialized"])
	}
}

func TestLeverageAndPrice(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/v1/leverage")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leverage status = %d", resp.StatusCode)
	}
	// Collateral value 100_000 against 50_000 debt: exactly 2x.
	if body["leverage"] != "2000000000000000000" {
		t.Fatalf("leverage = %v", body["leverage"])
	}

	resp, body = f.get(t, "/v1/price?shares=1000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("price status = %d", resp.StatusCode)
	}
	if body["price"] != "50000" {
		t.Fatalf("price = %v", body["price"])
	}

	resp, _ = f.get(t, "/v1/price?shares=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero shares status = %d", resp.StatusCode)
	}
}

func TestMintEndpoint(t *testing.T) {
	f := newFixture(t)

	quote, err := f.engine.PreviewMintViaDebt(big.NewInt(10))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	need := new(big.Int).Add(quote.AmountIn, quote.FeeAmount)
	if err := f.book.Mint(debtAsset, aliceAddr, need); err != nil {
		t.Fatalf("fund alice: %v", err)
	}

	resp, body := f.post(t, "/v1/mint", map[string]string{
		"caller": aliceAddr.Hex(),
		"shares": "10",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["receiptId"] == "" || body["operation"] != "mint" {
		t.Fatalf("unexpected receipt: %v", body)
	}
	if got := f.book.BalanceOf(shareAsset, aliceAddr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("alice shares = %s", got)
	}
}

func TestMintEndpointUnderfunded(t *testing.T) {
	f := newFixture(t)

	if err := f.book.Mint(debtAsset, aliceAddr, big.NewInt(1)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	resp, _ := f.post(t, "/v1/mint", map[string]string{
		"caller": aliceAddr.Hex(),
		"shares": "10",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := f.book.BalanceOf(debtAsset, aliceAddr); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("alice balance = %s, want the failed call to leave it alone", got)
	}
}

func TestBurnEndpointSlippage(t *testing.T) {
	f := newFixture(t)

	// Give alice shares by moving some of the owner's stake.
	if err := f.book.Transfer(shareAsset, ownerAddr, aliceAddr, big.NewInt(100)); err != nil {
		t.Fatalf("move shares: %v", err)
	}
	resp, _ := f.post(t, "/v1/burn", map[string]string{
		"caller":       aliceAddr.Hex(),
		"shares":       "100",
		"minAmountOut": "99999999999",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := f.book.BalanceOf(shareAsset, aliceAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice shares = %s, want escrow returned", got)
	}
}

func TestBurnEndpoint(t *testing.T) {
	f := newFixture(t)

	if err := f.book.Transfer(shareAsset, ownerAddr, aliceAddr, big.NewInt(100)); err != nil {
		t.Fatalf("move shares: %v", err)
	}
	resp, body := f.post(t, "/v1/burn", map[string]string{
		"caller": aliceAddr.Hex(),
		"shares": "100",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if got := f.book.BalanceOf(shareAsset, aliceAddr); got.Sign() != 0 {
		t.Fatalf("alice shares = %s, want 0", got)
	}
	if got := f.book.BalanceOf(debtAsset, aliceAddr); got.Sign() <= 0 {
		t.Fatalf("alice payout = %s, want positive", got)
	}
}

func TestRebalanceBalancedConflict(t *testing.T) {
	f := newFixture(t)

	if err := f.book.Mint(debtAsset, aliceAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	resp, _ := f.post(t, "/v1/rebalance/down", map[string]string{
		"caller":   aliceAddr.Hex(),
		"amountIn": "1000",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// Mutating requests race each other: failed operations revert to their own
// snapshot, which must never erase a mint another request committed in the
// meantime.
func TestConcurrentMutationsKeepBookConsistent(t *testing.T) {
	f := newFixture(t)

	if err := f.book.Mint(debtAsset, aliceAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}

	post := func(path string, body map[string]string) (int, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	const rounds = 8
	mintStatus := make([]int, rounds)
	burnStatus := make([]int, rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			status, err := post("/v1/mint", map[string]string{
				"caller": aliceAddr.Hex(),
				"shares": "5",
			})
			if err != nil {
				t.Errorf("mint %d: %v", i, err)
				return
			}
			mintStatus[i] = status
		}()
		go func() {
			defer wg.Done()
			// Unreachable minAmountOut: the burn always fails on slippage
			// after escrowing the owner's shares.
			status, err := post("/v1/burn", map[string]string{
				"caller":       ownerAddr.Hex(),
				"shares":       "10",
				"minAmountOut": "999999999999",
			})
			if err != nil {
				t.Errorf("burn %d: %v", i, err)
				return
			}
			burnStatus[i] = status
		}()
	}
	wg.Wait()

	for i, status := range mintStatus {
		if status != http.StatusOK {
			t.Fatalf("mint %d status = %d", i, status)
		}
	}
	for i, status := range burnStatus {
		if status != http.StatusUnprocessableEntity {
			t.Fatalf("burn %d status = %d", i, status)
		}
	}

	if got := f.book.BalanceOf(shareAsset, aliceAddr); got.Cmp(big.NewInt(5*rounds)) != 0 {
		t.Fatalf("alice shares = %s, want %d", got, 5*rounds)
	}
	if got := f.book.BalanceOf(shareAsset, ownerAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("owner shares = %s, want the failed burns to return every escrow", got)
	}
	pos := f.engine.Position()
	if pos.TotalShares.Cmp(big.NewInt(1_000+5*rounds)) != 0 {
		t.Fatalf("totalShares = %s, book and position diverged", pos.TotalShares)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.engine, f.book, slog.Default(), 0.001, 1)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get := func(ip string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("X-Real-IP", ip)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode
	}

	if status := get("10.0.0.1"); status != http.StatusOK {
		t.Fatalf("first request status = %d", status)
	}
	if status := get("10.0.0.1"); status != http.StatusTooManyRequests {
		t.Fatalf("exhausted client status = %d, want 429", status)
	}
	if status := get("10.0.0.2"); status != http.StatusOK {
		t.Fatalf("fresh client status = %d, want its own bucket", status)
	}
}

func TestBadAddressRejected(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/v1/mint", map[string]string{
		"caller": "not-an-address",
		"shares": "10",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
