package chain

import (
	"errors"
	"net/url"
	"strings"
)

// Sentinel errors
var (
	ErrMissingKey   = errors.New("chain: private key is required")
	ErrInvalidKey   = errors.New("chain: invalid private key")
	ErrMissingChain = errors.New("chain: chain id is required")

	ErrEstimateGas = errors.New("chain: gas estimation failed")
	ErrSubmit      = errors.New("chain: transaction submission failed")
	ErrConfirm     = errors.New("chain: waiting for confirmation failed")
	ErrReverted    = errors.New("chain: transaction reverted")
	ErrNoCode      = errors.New("chain: no code at deployed address")
)

// redactURL strips credentials and the last path segment, which carries the
// API key for hosted providers such as Alchemy and Infura.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<rpc>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	mask := ""
	if i := strings.LastIndex(u.Path, "/"); i >= 0 && i < len(u.Path)-1 {
		u.Path = u.Path[:i+1]
		u.RawPath = ""
		mask = "***"
	}
	return u.String() + mask
}
