package service

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/logging"
)

var (
	errTransport = &adapter.TransportError{Op: "FilterLogs", Err: errors.New("connection reset by peer")}
	errReverted  = &adapter.RpcError{Op: "CallContract", Code: 3, Message: "execution reverted"}
)

type fakeToken struct {
	symbol      string
	rawSymbol   []byte // returned verbatim when set
	decimals    uint8
	balance     *big.Int
	symbolErr   error
	decimalsErr error
	balanceErr  error
}

// fakeChain is an in-memory ChainClient
type fakeChain struct {
	mu sync.Mutex

	chainID    uint64
	head       uint64
	headErr    error
	balance    *big.Int
	balanceErr error
	code       map[common.Address]bool
	codeErr    map[common.Address]error
	tsErr      map[uint64]error
	logs       []ethtypes.Log
	chunkErr   map[uint64]error // keyed by the chunk's first block
	tokens     map[common.Address]*fakeToken

	logQueries []BlockRange
	calls      map[string]int
	codeCalls  int
	tsCalls    int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:  11155111,
		head:     1000,
		balance:  big.NewInt(0),
		code:     map[common.Address]bool{},
		codeErr:  map[common.Address]error{},
		tsErr:    map[uint64]error{},
		chunkErr: map[uint64]error{},
		tokens:   map[common.Address]*fakeToken{},
		calls:    map[string]int{},
	}
}

func (f *fakeChain) ChainID() *big.Int { return new(big.Int).SetUint64(f.chainID) }

func (f *fakeChain) URL() string { return "https://rpc.example.org/v2/secret-key" }

func (f *fakeChain) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	f.mu.Lock()
	f.tsCalls++
	err := f.tsErr[blockNumber]
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 1700000000 + blockNumber*12, nil
}

func (f *fakeChain) HasCode(ctx context.Context, address common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeCalls++
	if err := f.codeErr[address]; err != nil {
		return false, err
	}
	return f.code[address], nil
}

func (f *fakeChain) GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logQueries = append(f.logQueries, BlockRange{From: fromBlock, To: toBlock})
	if err := f.chunkErr[fromBlock]; err != nil {
		return nil, err
	}

	var out []ethtypes.Log
	for _, l := range f.logs {
		if l.BlockNumber < fromBlock || l.BlockNumber > toBlock {
			continue
		}
		if len(topics) > 0 && len(topics[0]) > 0 && (len(l.Topics) == 0 || l.Topics[0] != topics[0][0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeChain) Call(ctx context.Context, contract common.Address, calldata []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	erc20 := adapter.MustERC20ABI()

	f.mu.Lock()
	defer f.mu.Unlock()

	tok, ok := f.tokens[contract]
	for name, method := range erc20.Methods {
		if !bytes.Equal(calldata[:4], method.ID) {
			continue
		}
		f.calls[name]++
		if !ok {
			return nil, errReverted
		}

		switch name {
		case "symbol":
			if tok.symbolErr != nil {
				return nil, tok.symbolErr
			}
			if tok.rawSymbol != nil {
				return tok.rawSymbol, nil
			}
			return method.Outputs.Pack(tok.symbol)
		case "decimals":
			if tok.decimalsErr != nil {
				return nil, tok.decimalsErr
			}
			return method.Outputs.Pack(tok.decimals)
		case "balanceOf":
			if tok.balanceErr != nil {
				return nil, tok.balanceErr
			}
			balance := tok.balance
			if balance == nil {
				balance = new(big.Int)
			}
			return method.Outputs.Pack(balance)
		}
	}
	return nil, errReverted
}

func (f *fakeChain) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeChain) addToken(addr common.Address, tok *fakeToken) {
	f.tokens[addr] = tok
}

func (f *fakeChain) addLog(l ethtypes.Log) {
	f.logs = append(f.logs, l)
}

func transferLog(token, from, to common.Address, value *big.Int, block uint64, index uint) ethtypes.Log {
	return ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			adapter.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func testScope(wallet common.Address) *RunScope {
	return NewRunScope(wallet, logging.Discard())
}

// recordingSleep stands in for the pacer's sleep
type recordingSleep struct {
	mu     sync.Mutex
	sleeps int
	onCall func(n int)
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps++
	n := r.sleeps
	r.mu.Unlock()

	if r.onCall != nil {
		r.onCall(n)
	}
	return ctx.Err()
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sleeps
}
