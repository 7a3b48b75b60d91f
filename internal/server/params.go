package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PerpVAMM/internal/core"
	"PerpVAMM/internal/ingestion"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/query"
	"PerpVAMM/internal/state"
)

var errBadRequest = errors.New("bad request")

// params are the arguments of one call, decoded from a request struct or
// from an HTTP path and query string. Values are strings or float64s.
type params map[string]any

func (p params) str(name string) (string, bool) {
	switch v := p[name].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (p params) uuid(name string) (uuid.UUID, error) {
	s, ok := p.str(name)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s: %v", errBadRequest, name, err)
	}
	return id, nil
}

func (p params) optUint(name string) (*uint64, error) {
	s, ok := p.str(name)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", errBadRequest, name, err)
	}
	return &v, nil
}

func (p params) requiredUint(name string) (uint64, error) {
	v, err := p.optUint(name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return *v, nil
}

// limit reads a page size, falling back to def and capping at most.
func (p params) limit(name string, def, most int) (int, error) {
	v, err := p.optUint(name)
	if err != nil {
		return 0, err
	}
	if v == nil || *v == 0 {
		return def, nil
	}
	return int(min(*v, uint64(most))), nil
}

var notFound = []error{
	state.ErrUserDoesNotExist,
	state.ErrMarketIndexNotInitialized,
	state.ErrUserHasNoPositionInMarket,
	state.ErrOrderDoesNotExist,
	state.ErrOracleNotFound,
	sql.ErrNoRows,
}

// toStatus converts an error into a gRPC status. fallback is the code of
// errors no rule matches: FailedPrecondition for rejected commands, Internal
// for queries.
func toStatus(err error, fallback codes.Code) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err, fallback), err.Error())
}

func codeOf(err error, fallback codes.Code) codes.Code {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ingestion.ErrMalformed), errors.Is(err, state.ErrInvalidParameter):
		return codes.InvalidArgument
	case errors.Is(err, state.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, fpmath.ErrArithmetic):
		return codes.Aborted
	case errors.Is(err, query.ErrHistoryUnavailable), errors.Is(err, core.ErrNotBootstrapped):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return codes.NotFound
		}
	}
	return fallback
}
