package artifacts

import "errors"

// Sentinel errors
var (
	ErrArtifactNotFound  = errors.New("artifacts: contract artifact not found")
	ErrAmbiguousArtifact = errors.New("artifacts: contract name is ambiguous")
	ErrMissingABI        = errors.New("artifacts: artifact has no ABI")
	ErrEmptyBytecode     = errors.New("artifacts: empty bytecode")
	ErrUnlinkedBytecode  = errors.New("artifacts: bytecode has unlinked library placeholders")
	ErrMethodNotFound    = errors.New("artifacts: method not found in ABI")

	ErrArgumentCount   = errors.New("artifacts: wrong number of arguments")
	ErrInvalidArgument = errors.New("artifacts: invalid argument")
	ErrUnsupportedType = errors.New("artifacts: unsupported argument type")
)
