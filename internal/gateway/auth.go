package gateway

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// Credentials holds the L2 API key triplet used for HMAC-signed hot-path
// trading requests.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth implements the gateway's two-level authentication: a one-off
// EIP-712 signature proves wallet ownership and derives an L2 API key
// triplet; every hot-path trading request afterward is authenticated with
// a cheap HMAC-SHA256 signature instead, so the per-order cost never
// touches the private key again.
type Auth struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       types.SignatureType
	creds         Credentials
}

// NewAuth creates a gateway Auth from wallet configuration.
func NewAuth(cfg config.Config) (*Auth, error) {
	keyHex := cfg.Wallet.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	funder := address
	if cfg.Wallet.FunderAddress != "" {
		funder = common.HexToAddress(cfg.Wallet.FunderAddress)
	}

	return &Auth{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(int64(cfg.Wallet.ChainID)),
		sigType:       types.SignatureType(cfg.Wallet.SignatureType),
		creds: Credentials{
			ApiKey:     cfg.API.ApiKey,
			Secret:     cfg.API.Secret,
			Passphrase: cfg.API.Passphrase,
		},
	}, nil
}

// Address returns the signer's EOA address.
func (a *Auth) Address() common.Address { return a.address }

// PrivateKey exposes the signer key for the Order Builder's EIP-712 order
// signing — the only other consumer of wallet key material.
func (a *Auth) PrivateKey() *ecdsa.PrivateKey { return a.privateKey }

// ChainID returns the configured chain ID for EIP-712 domain signing.
func (a *Auth) ChainID() *big.Int { return a.chainID }

// FunderAddress returns the proxy/funder wallet address.
func (a *Auth) FunderAddress() common.Address { return a.funderAddress }

// SignatureType returns the configured on-chain signing scheme.
func (a *Auth) SignatureType() types.SignatureType { return a.sigType }

// HasL2Credentials reports whether the hot-path HMAC credentials are set.
func (a *Auth) HasL2Credentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// SetCredentials installs L2 credentials, typically right after DeriveAPIKey.
func (a *Auth) SetCredentials(creds Credentials) { a.creds = creds }

// L1Headers signs a one-off EIP-712 "ClobAuth" message to authenticate a
// read or key-derivation request without a standing API key.
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.signAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign auth message: %w", err)
	}
	return map[string]string{
		"GW_ADDRESS":   a.address.Hex(),
		"GW_SIGNATURE": sig,
		"GW_TIMESTAMP": timestamp,
		"GW_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers signs a hot-path trading request with the HMAC API key. If no
// L2 credentials are configured, the caller should fall back to L1Headers
// and derive credentials first — L2Headers itself never silently
// downgrades, since a missing secret would sign with garbage.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	if !a.HasL2Credentials() {
		return nil, fmt.Errorf("gateway: no L2 credentials configured")
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}
	return map[string]string{
		"GW_ADDRESS":    a.address.Hex(),
		"GW_SIGNATURE":  sig,
		"GW_TIMESTAMP":  timestamp,
		"GW_API_KEY":    a.creds.ApiKey,
		"GW_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

func (a *Auth) signAuthMessage(timestamp string, nonce int) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"GatewayAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "GatewayAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "GatewayAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// buildHMAC computes the HMAC-SHA256 signature over
// timestamp + method + path [+ body], trying every base64 variant the
// gateway has historically issued secrets in.
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
