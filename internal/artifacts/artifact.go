// Package artifacts loads compiled contract artifacts (ABI and bytecode) and
// encodes constructor and initializer calls from them.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxCodeSize is the EIP-170 limit on deployed runtime bytecode.
const MaxCodeSize = 24576

// ContractArtifact is a compiled Solidity contract as written by Hardhat or Foundry.
type ContractArtifact struct {
	ContractName     string          `json:"contractName,omitempty"`
	SourceName       string          `json:"sourceName,omitempty"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode,omitempty"`
}

// Bytecode holds a hex string. Hardhat writes it as a plain string, Foundry
// as an object with an "object" field; both decode here.
type Bytecode struct {
	Object string `json:"object"`
}

// UnmarshalJSON accepts either representation.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		b.Object = ""
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &b.Object)
	}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	b.Object = obj.Object
	return nil
}

// Bytes decodes the hex string. Library link placeholders are rejected.
func (b Bytecode) Bytes() ([]byte, error) {
	code := strings.TrimSpace(b.Object)
	if code == "" || code == "0x" {
		return nil, ErrEmptyBytecode
	}
	if strings.Contains(code, "__") {
		return nil, ErrUnlinkedBytecode
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	out, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return out, nil
}

// BytecodeBytes returns the creation code.
func (a *ContractArtifact) BytecodeBytes() ([]byte, error) {
	code, err := a.Bytecode.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.ContractName, err)
	}
	return code, nil
}

// RuntimeSize returns the size of the deployed bytecode, or 0 when the
// artifact does not carry it.
func (a *ContractArtifact) RuntimeSize() int {
	code, err := a.DeployedBytecode.Bytes()
	if err != nil {
		return 0
	}
	return len(code)
}

// ParsedABI parses the artifact's ABI.
func (a *ContractArtifact) ParsedABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("%s: %w", a.ContractName, ErrMissingABI)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%s: parse ABI: %w", a.ContractName, err)
	}
	return parsed, nil
}

// EncodeDeploy returns creation code followed by the ABI-encoded constructor
// arguments, converted from their string form.
func (a *ContractArtifact) EncodeDeploy(values ...string) ([]byte, error) {
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, err
	}
	code, err := a.BytecodeBytes()
	if err != nil {
		return nil, err
	}
	args, err := ConvertArgs(parsed.Constructor.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.ContractName, err)
	}
	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: pack: %w", a.ContractName, err)
	}
	return append(code, packed...), nil
}

// EncodeCall returns the selector and ABI-encoded arguments of method.
func (a *ContractArtifact) EncodeCall(method string, values ...string) ([]byte, error) {
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, err
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, a.ContractName, method)
	}
	args, err := ConvertArgs(m.Inputs, values)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", a.ContractName, method, err)
	}
	packed, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: pack: %w", a.ContractName, method, err)
	}
	return packed, nil
}
