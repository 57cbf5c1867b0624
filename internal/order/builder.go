// Package order implements the Order Builder: tick-rounding, micro-unit
// fixed-point conversion, EIP-712 order signing, and derived-proxy-address
// computation for order intents headed to the Order Gateway.
package order

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"updown-mm/pkg/types"
)

// microUnit is the fixed-point scale (1e6) the on-chain contract expects
// for both collateral and share amounts.
const microUnit = 1_000_000

// saltBits bounds the random order salt so it survives any downstream
// JSON-number conversion (JS numbers lose precision above 2^53).
const saltBits = 53

// Builder validates, sizes, tick-rounds, and signs order intents.
type Builder struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       types.SignatureType
}

// NewBuilder constructs an Order Builder from a signer key and optional
// proxy/funder wallet (equal to the signer's address if no proxy is used).
func NewBuilder(privateKey *ecdsa.PrivateKey, funderAddress common.Address, chainID int64, sigType types.SignatureType) *Builder {
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	if funderAddress == (common.Address{}) {
		funderAddress = address
	}
	return &Builder{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funderAddress,
		chainID:       big.NewInt(chainID),
		sigType:       sigType,
	}
}

// Address returns the signer's EOA address.
func (b *Builder) Address() common.Address { return b.address }

// roundTickSide applies the tick-rounding rule for one side of an order
// intent: the collateral side and the share side round to different
// precisions depending on order type and direction. This mirrors the
// on-chain contract's accepted precisions — BUY limits round the
// collateral side to 4 decimals and floor the share side to 2; SELL
// limits round the share side up to 2 decimals and floor the collateral
// side to 4; market orders use 2 decimals for collateral and 4 for
// shares.
func roundTickSide(price, size decimal.Decimal, side types.OrderSide, orderType types.OrderType) (collateral, shares decimal.Decimal) {
	if orderType.IsMarketOrder() {
		collateral = price.Mul(size).Truncate(2)
		shares = size.Truncate(4)
		return collateral, shares
	}
	switch side {
	case types.Buy:
		collateral = price.Mul(size).Round(4)
		shares = size.Truncate(2)
	case types.Sell:
		shares = size.RoundCeil(2)
		collateral = price.Mul(size).Truncate(4)
	}
	return collateral, shares
}

// toMicroUnits converts a decimal dollar/share amount to the integer
// micro-unit representation (x1e6) the gateway expects, truncating any
// sub-micro-unit remainder. The scaling is exact decimal arithmetic, not
// floating point, so it never drifts at the tick boundary.
func toMicroUnits(amount decimal.Decimal) *big.Int {
	scaled := amount.Mul(decimal.NewFromInt(microUnit))
	return scaled.Truncate(0).BigInt()
}

// randomSalt returns a random value that fits in 53 bits.
func randomSalt() uint64 {
	return uint64(rand.Int63n(1 << saltBits))
}

// Build converts a strategy's OrderIntent into a signed, gateway-ready
// OrderPayload. feeRateBps is the market's MarketInfo.FeeRateBps, as
// filled in by discovery.
func (b *Builder) Build(intent types.OrderIntent, feeRateBps int) (types.OrderPayload, error) {
	collateral, shares := roundTickSide(intent.Price, intent.Size, intent.OrderSide, intent.OrderType)

	var makerAmt, takerAmt *big.Int
	switch intent.OrderSide {
	case types.Buy:
		makerAmt = toMicroUnits(collateral) // USDC paid
		takerAmt = toMicroUnits(shares)     // tokens received
	case types.Sell:
		makerAmt = toMicroUnits(shares)     // tokens given
		takerAmt = toMicroUnits(collateral) // USDC received
	}

	order := types.SignedOrder{
		Salt:          randomSalt(),
		Maker:         b.funderAddress.Hex(),
		Signer:        b.address.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       intent.TokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		OrderSide:     intent.OrderSide,
		Expiration:    fmt.Sprintf("%d", intent.Expiration),
		Nonce:         "0",
		FeeRateBps:    fmt.Sprintf("%d", feeRateBps),
		SignatureType: b.sigType,
	}

	sig, err := b.signOrder(order)
	if err != nil {
		return types.OrderPayload{}, fmt.Errorf("sign order: %w", err)
	}
	order.Signature = "0x" + common.Bytes2Hex(sig)

	return types.OrderPayload{
		Order:     order,
		OrderType: intent.OrderType,
		PostOnly:  intent.PostOnly,
	}, nil
}

// signOrder signs the order under the exchange's typed-data scheme.
func (b *Builder) signOrder(order types.SignedOrder) ([]byte, error) {
	return b.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "OrderExchange",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(b.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "string"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "side", Type: "string"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
			},
		},
		apitypes.TypedDataMessage{
			"salt":        fmt.Sprintf("%d", order.Salt),
			"maker":       order.Maker,
			"signer":      order.Signer,
			"taker":       order.Taker,
			"tokenId":     order.TokenID,
			"makerAmount": order.MakerAmount,
			"takerAmount": order.TakerAmount,
			"side":        string(order.OrderSide),
			"expiration":  order.Expiration,
			"nonce":       order.Nonce,
			"feeRateBps":  order.FeeRateBps,
		},
		"Order",
	)
}

func (b *Builder) signTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, b.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// DeriveProxyAddress computes a CREATE2 proxy/derived wallet address from
// the signer's address, a factory address, and the factory's init-code
// hash, the standard deterministic-address scheme used by proxy-wallet
// factories: address = keccak256(0xff ++ factory ++ salt ++ initCodeHash)[12:].
func DeriveProxyAddress(signer, factory common.Address, initCodeHash [32]byte) common.Address {
	salt := common.LeftPadBytes(signer.Bytes(), 32)

	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, factory.Bytes()...)
	data = append(data, salt...)
	data = append(data, initCodeHash[:]...)

	hash := crypto.Keccak256(data)
	return common.BytesToAddress(hash[12:])
}

// Nothing else in this file uses the math package; this blank reference
// keeps its import.
var _ = math.Abs
