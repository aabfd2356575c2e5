package ipc

import "github.com/raibid-labs/sigilforge/internal/errkind"

// JSON-RPC reserved codes (spec §6.6 / JSON-RPC 2.0 base spec).
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Application error codes, -32000..-32099, mapped from the errkind
// taxonomy per SPEC_FULL.md §7.
const (
	codeUnauthorized    = -32001
	codeOversizeFrame   = -32001
	codeNotFound        = -32004
	codeAuthRequired    = -32010
	codeUserDenied      = -32011
	codeFlowInProgress  = -32012
	codeFlowTimeout     = -32013
	codeExpired         = -32014
	codeStoreBackend    = -32020
	codeNetwork         = -32030
)

// codeForKind maps an errkind.Kind to its JSON-RPC numeric code.
func codeForKind(k errkind.Kind) int {
	switch k {
	case errkind.InvalidUri, errkind.InvalidParams:
		return codeInvalidParams
	case errkind.UnknownMethod:
		return codeMethodNotFound
	case errkind.AccountNotFound, errkind.ProviderNotConfigured, errkind.SecretNotFound:
		return codeNotFound
	case errkind.AuthRequired:
		return codeAuthRequired
	case errkind.UserDenied:
		return codeUserDenied
	case errkind.FlowInProgress:
		return codeFlowInProgress
	case errkind.FlowTimeout:
		return codeFlowTimeout
	case errkind.Expired:
		return codeExpired
	case errkind.StoreBackend, errkind.KeyringUnavailable, errkind.FileIo:
		return codeStoreBackend
	case errkind.HttpStatus, errkind.Network, errkind.Timeout, errkind.RefreshFailed:
		return codeNetwork
	case errkind.ParseError:
		return codeParseError
	case errkind.OversizeFrame:
		return codeOversizeFrame
	case errkind.Unauthorized:
		return codeUnauthorized
	default:
		return codeNetwork
	}
}

// errorToRPC converts an internal error into the wire RPCError, carrying
// forward whatever non-secret data was attached.
func errorToRPC(err error) RPCError {
	kind := errkind.Is(err)
	data := errkind.DataOf(err)
	rpcErr := RPCError{Code: codeForKind(kind), Message: err.Error()}
	if data != (errkind.Data{}) {
		rpcErr.Data = data
	}
	return rpcErr
}
