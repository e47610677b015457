package artifacts

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ConvertArgs converts string values into the Go types the ABI packer expects
// for inputs. Values come from configuration and plan files, so everything
// starts as text.
func ConvertArgs(inputs abi.Arguments, values []string) ([]interface{}, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArgumentCount, len(inputs), len(values))
	}
	out := make([]interface{}, len(values))
	for i, in := range inputs {
		v, err := convertArg(in.Type, values[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(t abi.Type, raw string) (interface{}, error) {
	s := strings.TrimSpace(raw)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%w: %q is not a hex address", ErrInvalidArgument, raw)
		}
		return common.HexToAddress(s), nil

	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidArgument, raw)
		}
		return fitInteger(t, n, raw)

	case abi.BoolTy:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidArgument, raw)
		}
		return b, nil

	case abi.StringTy:
		return raw, nil

	case abi.BytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, raw, err)
		}
		return b, nil

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidArgument, raw, err)
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidArgument, t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t.String())
}

// fitInteger returns n as the Go type abi.Type.GetType reports: native
// integers up to 64 bits, *big.Int above.
func fitInteger(t abi.Type, n *big.Int, raw string) (interface{}, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidArgument, raw)
	}
	limit, mag := t.Size, n
	if t.T == abi.IntTy {
		limit--
		if n.Sign() < 0 {
			mag = new(big.Int).Add(n, big.NewInt(1))
		}
	}
	if mag.BitLen() > limit {
		return nil, fmt.Errorf("%w: %q overflows %s", ErrInvalidArgument, raw, t.String())
	}

	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return n, nil
	}
	v := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		v.SetUint(n.Uint64())
	} else {
		v.SetInt(n.Int64())
	}
	return v.Interface(), nil
}
