// Package mempool watches pending traffic for envelopes addressed to the
// executor module and screens them before anyone executes anything. Nothing
// here submits transactions; it is a read-only shadow of the live engine.
package mempool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

type TxHandler func(context.Context, *types.Transaction) error

// Watcher subscribes to newPendingTransactions over websocket, resolves
// hashes to full bodies, and hands transactions addressed to To over to OnTx
// through a worker pool. A zero To address disables the recipient filter.
// The subscription reconnects with backoff until the context is canceled.
type Watcher struct {
	WSSURL      string
	To          common.Address
	OnTx        TxHandler
	Workers     int
	DialTimeout time.Duration

	wg sync.WaitGroup
}

func NewWatcher(wssURL string, to common.Address, onTx TxHandler) *Watcher {
	return &Watcher{
		WSSURL:      wssURL,
		To:          to,
		OnTx:        onTx,
		Workers:     8,
		DialTimeout: 10 * time.Second,
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	if w.WSSURL == "" {
		return errors.New("WSSURL is empty")
	}
	if w.Workers <= 0 {
		w.Workers = 1
	}

	txCh := make(chan *types.Transaction, 1024)
	w.wg.Add(2)
	go w.runWorkers(ctx, txCh)
	go func() {
		defer w.wg.Done()
		w.runLoop(ctx, txCh)
		close(txCh) // runLoop is the only sender
	}()
	return nil
}

func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) runWorkers(ctx context.Context, txCh <-chan *types.Transaction) {
	defer w.wg.Done()
	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range txCh {
				if w.OnTx != nil {
					_ = w.OnTx(ctx, tx)
				}
			}
		}()
	}
	wg.Wait()
}

// wanted is the ingest filter: only traffic to the watched address survives.
// Contract creations never do; the executor module already exists.
func (w *Watcher) wanted(tx *types.Transaction) bool {
	if w.To == (common.Address{}) {
		return true
	}
	return tx.To() != nil && *tx.To() == w.To
}

func (w *Watcher) runLoop(ctx context.Context, txCh chan<- *types.Transaction) {
	var attempt int
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.subscribeOnce(ctx, txCh)
		if err == nil || ctx.Err() != nil {
			return
		}

		delayMs := 500 * (1 << uint(min(attempt, 6)))
		if delayMs > 8000 {
			delayMs = 8000
		}
		delay := time.Duration(delayMs) * time.Millisecond
		telemetry.Warnf("[mempool] subscribe error: %v; reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		attempt++
	}
}

func (w *Watcher) subscribeOnce(ctx context.Context, txCh chan<- *types.Transaction) error {
	dialCtx, cancel := context.WithTimeout(ctx, w.DialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, w.WSSURL)
	if err != nil {
		return err
	}
	defer rpcClient.Close()

	ethCl := ethclient.NewClient(rpcClient)
	defer ethCl.Close()

	// The subscription delivers hashes only. Fetchers resolve them to bodies
	// concurrently and apply the recipient filter right there, so the worker
	// pool never sees the firehose, just the module's traffic.
	hashes := make(chan common.Hash, 8192)
	sub, err := rpcClient.EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fetchers := max(2, w.Workers/2)
	txOut := make(chan *types.Transaction, 2048)

	subCtx, subCancel := context.WithCancel(ctx)
	var fg sync.WaitGroup
	fg.Add(fetchers)
	for i := 0; i < fetchers; i++ {
		go func() {
			defer fg.Done()
			for {
				select {
				case <-subCtx.Done():
					return
				case h := <-hashes:
					tx, _, err := ethCl.TransactionByHash(subCtx, h)
					if err != nil {
						// already mined or pruned; nothing to screen
						continue
					}
					if !w.wanted(tx) {
						continue
					}
					select {
					case txOut <- tx:
					default:
					}
				}
			}
		}()
	}

	// Stop the fetchers before the deferred Close calls pull the client
	// out from under them.
	defer func() {
		subCancel()
		fg.Wait()
	}()
	telemetry.Infof("[mempool] subscribed to newPendingTransactions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err != nil {
				return err
			}
			return nil
		case tx := <-txOut:
			select {
			case txCh <- tx:
			default:
				telemetry.Warnf("[mempool] txCh full (%d); dropping %s", len(txCh), tx.Hash().Hex())
			}
		}
	}
}

// Sender recovers the signing address from the tx signature.
func Sender(tx *types.Transaction) (common.Address, error) {
	if tx == nil {
		return common.Address{}, nil
	}
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}
