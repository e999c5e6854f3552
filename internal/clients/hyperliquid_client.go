// Package clients builds the exchange SDK clients used by the price sources.
package clients

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient builds the SDK exchange for the account owning privateKeyHex.
func NewHyperliquidClient(privateKeyHex string, baseURL string) (*HyperliquidClient, error) {
	privateKey, accountAddr, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

// ParsePrivateKey decodes a hex key, with or without 0x, and derives its address.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, string, error) {
	key := strings.TrimSpace(privateKeyHex)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if key == "" {
		return nil, "", errors.New("hyperliquid private key is empty")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode hyperliquid private key")
	}

	pubECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, "", errors.New("error casting public key to ECDSA")
	}
	return privateKey, crypto.PubkeyToAddress(*pubECDSA).Hex(), nil
}

func (c *HyperliquidClient) Exchange() *hyperliquid.Exchange { return c.exchange }
func (c *HyperliquidClient) Info() *hyperliquid.Info         { return c.exchange.Info() }
func (c *HyperliquidClient) AccountAddress() string          { return c.accountAddr }
