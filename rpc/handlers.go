package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"levfolio/engine"
)

const (
	fundingDebt       = "debt"
	fundingCollateral = "collateral"
)

type positionResponse struct {
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	ShareAsset      string `json:"shareAsset"`
	TotalCollateral string `json:"totalCollateral"`
	TotalDebt       string `json:"totalDebt"`
	TotalShares     string `json:"totalShares"`
	TargetLeverage  string `json:"targetLeverage"`
	MinLeverage     string `json:"minLeverage"`
	MaxLeverage     string `json:"maxLeverage"`
	FeeRateBps      uint64 `json:"feeRateBps"`
	Initialized     bool   `json:"initialized"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos := s.engine.Position()
	minBand, maxBand := pos.Band()
	s.writeJSON(w, http.StatusOK, positionResponse{
		CollateralAsset: string(pos.CollateralAsset),
		DebtAsset:       string(pos.DebtAsset),
		ShareAsset:      string(pos.ShareAsset),
		TotalCollateral: formatBig(pos.TotalCollateral),
		TotalDebt:       formatBig(pos.TotalDebt),
		TotalShares:     formatBig(pos.TotalShares),
		TargetLeverage:  formatBig(pos.TargetLeverageRatio),
		MinLeverage:     formatBig(minBand),
		MaxLeverage:     formatBig(maxBand),
		FeeRateBps:      pos.FeeRateBps,
		Initialized:     pos.Initialized,
	})
}

func (s *Server) handleLeverage(w http.ResponseWriter, r *http.Request) {
	ratio, err := s.engine.LeverageRatio()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"leverage": ratio.String()})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	shares, err := parsePositiveBig(r.URL.Query().Get("shares"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("shares: %w", err))
		return
	}
	price, err := s.engine.Price(shares)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"shares": shares.String(),
		"price":  price.String(),
	})
}

type mintQuoteResponse struct {
	Shares     string `json:"shares"`
	Funding    string `json:"funding"`
	AmountIn   string `json:"amountIn"`
	FeeAmount  string `json:"feeAmount"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

func (s *Server) handlePreviewMint(w http.ResponseWriter, r *http.Request) {
	shares, err := parsePositiveBig(r.URL.Query().Get("shares"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("shares: %w", err))
		return
	}
	funding, err := parseFunding(r.URL.Query().Get("funding"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var quote *engine.MintQuote
	if funding == fundingDebt {
		quote, err = s.engine.PreviewMintViaDebt(shares)
	} else {
		quote, err = s.engine.PreviewMintViaCollateral(shares)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mintQuoteResponse{
		Shares:     quote.Shares.String(),
		Funding:    funding,
		AmountIn:   quote.AmountIn.String(),
		FeeAmount:  quote.FeeAmount.String(),
		Collateral: quote.Collateral.String(),
		Debt:       quote.Debt.String(),
	})
}

type burnQuoteResponse struct {
	Shares     string `json:"shares"`
	Payout     string `json:"payout"`
	AmountOut  string `json:"amountOut"`
	FeeAmount  string `json:"feeAmount"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

func (s *Server) handlePreviewBurn(w http.ResponseWriter, r *http.Request) {
	shares, err := parsePositiveBig(r.URL.Query().Get("shares"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("shares: %w", err))
		return
	}
	payout, err := parseFunding(r.URL.Query().Get("payout"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var quote *engine.BurnQuote
	if payout == fundingDebt {
		quote, err = s.engine.PreviewBurnViaDebt(shares)
	} else {
		quote, err = s.engine.PreviewBurnViaCollateral(shares)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, burnQuoteResponse{
		Shares:     quote.Shares.String(),
		Payout:     payout,
		AmountOut:  quote.AmountOut.String(),
		FeeAmount:  quote.FeeAmount.String(),
		Collateral: quote.Collateral.String(),
		Debt:       quote.Debt.String(),
	})
}

type mintRequest struct {
	Caller          string `json:"caller"`
	Shares          string `json:"shares"`
	Recipient       string `json:"recipient"`
	RefundRecipient string `json:"refundRecipient"`
	Funding         string `json:"funding"`
}

type receiptResponse struct {
	ReceiptID string `json:"receiptId"`
	Operation string `json:"operation"`
	Shares    string `json:"shares,omitempty"`
	AmountIn  string `json:"amountIn,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	shares, err := parsePositiveBig(req.Shares)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("shares: %w", err))
		return
	}
	recipient := caller
	if req.Recipient != "" {
		if recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	refundRecipient := caller
	if req.RefundRecipient != "" {
		if refundRecipient, err = parseAddress("refundRecipient", req.RefundRecipient); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	funding, err := parseFunding(req.Funding)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	pos := s.engine.Position()
	fundingAsset := pos.DebtAsset
	if funding == fundingCollateral {
		fundingAsset = pos.CollateralAsset
	}

	// Quote, debit the caller, and run the operation under one snapshot:
	// the engine reverts its own state on failure, the composite revert
	// covers the pre-funding transfer.
	need := new(big.Int)
	err = s.mutate(func() error {
		var quote *engine.MintQuote
		var err error
		if funding == fundingDebt {
			quote, err = s.engine.PreviewMintViaDebt(shares)
		} else {
			quote, err = s.engine.PreviewMintViaCollateral(shares)
		}
		if err != nil {
			return err
		}
		need.Add(quote.AmountIn, quote.FeeAmount)
		if err := s.book.Transfer(fundingAsset, caller, s.engine.Address(), need); err != nil {
			return fmt.Errorf("pre-fund mint: %w", err)
		}
		if funding == fundingDebt {
			return s.engine.MintViaDebt(caller, shares, recipient, refundRecipient)
		}
		return s.engine.MintViaCollateral(caller, shares, recipient, refundRecipient)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receiptResponse{
		ReceiptID: uuid.NewString(),
		Operation: "mint",
		Shares:    shares.String(),
		AmountIn:  need.String(),
	})
}

type burnRequest struct {
	Caller       string `json:"caller"`
	Shares       string `json:"shares"`
	Recipient    string `json:"recipient"`
	MinAmountOut string `json:"minAmountOut"`
	Payout       string `json:"payout"`
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	shares, err := parsePositiveBig(req.Shares)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("shares: %w", err))
		return
	}
	recipient := caller
	if req.Recipient != "" {
		if recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	minAmountOut := big.NewInt(0)
	if req.MinAmountOut != "" {
		if minAmountOut, err = parseNonNegativeBig(req.MinAmountOut); err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("minAmountOut: %w", err))
			return
		}
	}
	payout, err := parseFunding(req.Payout)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	pos := s.engine.Position()
	err = s.mutate(func() error {
		if err := s.book.Transfer(pos.ShareAsset, caller, s.engine.Address(), shares); err != nil {
			return fmt.Errorf("escrow shares: %w", err)
		}
		if payout == fundingDebt {
			return s.engine.BurnViaDebt(caller, recipient, minAmountOut)
		}
		return s.engine.BurnViaCollateral(caller, recipient, minAmountOut)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receiptResponse{
		ReceiptID: uuid.NewString(),
		Operation: "burn",
		Shares:    shares.String(),
	})
}

type rebalanceRequest struct {
	Caller       string `json:"caller"`
	AmountIn     string `json:"amountIn"`
	MinIncentive string `json:"minIncentive"`
}

func (s *Server) handleRebalance(up bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rebalanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		caller, err := parseAddress("caller", req.Caller)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		amountIn, err := parsePositiveBig(req.AmountIn)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("amountIn: %w", err))
			return
		}
		minIncentive := big.NewInt(0)
		if req.MinIncentive != "" {
			if minIncentive, err = parseNonNegativeBig(req.MinIncentive); err != nil {
				s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("minIncentive: %w", err))
				return
			}
		}

		pos := s.engine.Position()
		asset := pos.DebtAsset
		operation := "rebalance_down"
		if up {
			asset = pos.CollateralAsset
			operation = "rebalance_up"
		}

		err = s.mutate(func() error {
			if err := s.book.Transfer(asset, caller, s.engine.Address(), amountIn); err != nil {
				return fmt.Errorf("pre-fund rebalance: %w", err)
			}
			if up {
				return s.engine.LeverageUp(caller, minIncentive)
			}
			return s.engine.LeverageDown(caller, minIncentive)
		})
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, receiptResponse{
			ReceiptID: uuid.NewString(),
			Operation: operation,
			AmountIn:  amountIn.String(),
		})
	}
}

func parseFunding(raw string) (string, error) {
	switch raw {
	case "", fundingDebt:
		return fundingDebt, nil
	case fundingCollateral:
		return fundingCollateral, nil
	default:
		return "", fmt.Errorf("funding must be %q or %q", fundingDebt, fundingCollateral)
	}
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parsePositiveBig(raw string) (*big.Int, error) {
	value, err := parseNonNegativeBig(raw)
	if err != nil {
		return nil, err
	}
	if value.Sign() == 0 {
		return nil, errors.New("must be positive")
	}
	return value, nil
}

func parseNonNegativeBig(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("missing value")
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
