package wallet

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/perpcity/beaconator/internal/network"
)

// Signer produces raw 65-byte r‖s‖v signatures over 32-byte digests
// for one wallet identity.
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
}

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner wraps a private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewLocalSignerFromHex parses a hex-encoded private key.
func NewLocalSignerFromHex(keyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) SignDigest(_ context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// CustodyClient calls the remote custody signing API. Requests carry
// the org id and API key plus an HMAC stamp over the body.
type CustodyClient struct {
	baseURL   string
	orgID     string
	apiKey    string
	apiSecret string
	http      *http.Client
}

// NewCustodyClient builds a client for the custody API.
func NewCustodyClient(baseURL, orgID, apiKey, apiSecret string) *CustodyClient {
	return &CustodyClient{
		baseURL:   baseURL,
		orgID:     orgID,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      network.NewHTTPClient(network.DefaultRetryConfig(), 30*time.Second),
	}
}

type custodySignRequest struct {
	OrgID  string `json:"org_id"`
	KeyRef string `json:"key_ref"`
	Digest string `json:"digest"`
}

type custodySignResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

func (c *CustodyClient) stamp(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign asks the custody API to sign a digest with the key behind
// keyRef. Returns the 65-byte signature.
func (c *CustodyClient) Sign(ctx context.Context, keyRef string, digest [32]byte) ([]byte, error) {
	body, err := json.Marshal(custodySignRequest{
		OrgID:  c.orgID,
		KeyRef: keyRef,
		Digest: hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Stamp", c.stamp(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("custody sign request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read custody response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custody sign returned %d: %s", resp.StatusCode, respBody)
	}

	var signResp custodySignResponse
	if err := json.Unmarshal(respBody, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse custody response: %w", err)
	}
	if signResp.Error != "" {
		return nil, fmt.Errorf("custody sign error: %s", signResp.Error)
	}

	sig, err := hex.DecodeString(signResp.Signature)
	if err != nil {
		return nil, fmt.Errorf("custody returned malformed signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("custody signature has %d bytes, want 65", len(sig))
	}
	return sig, nil
}

// RemoteSigner is a Signer backed by the custody API for one key.
type RemoteSigner struct {
	client  *CustodyClient
	keyRef  string
	address common.Address
}

// NewRemoteSigner binds a custody key ref to its on-chain address.
func NewRemoteSigner(client *CustodyClient, keyRef string, address common.Address) *RemoteSigner {
	return &RemoteSigner{client: client, keyRef: keyRef, address: address}
}

func (s *RemoteSigner) Address() common.Address { return s.address }

func (s *RemoteSigner) SignDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	return s.client.Sign(ctx, s.keyRef, digest)
}
