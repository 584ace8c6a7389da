// Package multicall executes batches of ABI encoded oracle calls as one
// unit of work.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Executor runs calls against a single oracle.
type Executor struct {
	db     *state.DB
	oracle engine.PriceOracle
	abi    abi.ABI
}

// New creates an Executor for oracle. Batches run in units of db.
func New(db *state.DB, oracle engine.PriceOracle) (*Executor, error) {
	if db == nil {
		return nil, errors.New("config: DB cannot be nil")
	}
	if oracle == nil {
		return nil, errors.New("config: oracle cannot be nil")
	}
	parsed, err := abi.JSON(strings.NewReader(OracleABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle ABI: %w", err)
	}
	return &Executor{db: db, oracle: oracle, abi: parsed}, nil
}

// Pack encodes a call to method.
func (e *Executor) Pack(method string, args ...any) ([]byte, error) {
	return e.abi.Pack(method, args...)
}

// Unpack decodes the result of a call to method.
func (e *Executor) Unpack(method string, result []byte) ([]any, error) {
	return e.abi.Unpack(method, result)
}

// Multicall runs calls in order inside one unit of work and returns their
// encoded results. The first failing call aborts the whole batch.
func (e *Executor) Multicall(ctx context.Context, calls [][]byte) ([][]byte, error) {
	results := make([][]byte, len(calls))
	err := e.db.Update(ctx, func(ctx context.Context) error {
		for i, call := range calls {
			out, err := e.call(ctx, call)
			if err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			results[i] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) call(ctx context.Context, call []byte) ([]byte, error) {
	if len(call) < 4 {
		return nil, fmt.Errorf("%w: call data %s has no selector", engine.ErrInvalidInput, hexutil.Encode(call))
	}
	method, err := e.abi.MethodById(call[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	args, err := method.Inputs.Unpack(call[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", method.Name, engine.ErrInvalidInput, err)
	}
	out, err := e.dispatch(ctx, method.Name, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.Name, err)
	}
	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to pack result: %w", method.Name, err)
	}
	return packed, nil
}

func (e *Executor) dispatch(ctx context.Context, method string, args []any) ([]any, error) {
	switch method {
	case "canSupportPair":
		ok, err := e.oracle.CanSupportPair(ctx, args[0].(common.Address), args[1].(common.Address))
		return []any{ok}, err
	case "isPairAlreadySupported":
		ok, err := e.oracle.IsPairAlreadySupported(ctx, args[0].(common.Address), args[1].(common.Address))
		return []any{ok}, err
	case "addOrModifySupportForPair":
		return nil, e.oracle.AddOrModifySupportForPair(ctx, args[0].(common.Address), args[1].(common.Address), args[2].([]byte))
	case "addSupportForPairIfNeeded":
		return nil, e.oracle.AddSupportForPairIfNeeded(ctx, args[0].(common.Address), args[1].(common.Address), args[2].([]byte))
	case "quote":
		out, err := e.oracle.Quote(ctx, args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address), args[3].([]byte))
		return []any{out}, err
	}
	return nil, fmt.Errorf("%w: unsupported method", engine.ErrInvalidInput)
}
