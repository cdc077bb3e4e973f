package telemetry

import "sync/atomic"

// Screening counters since process start. Incremented from the firewall and
// oracle paths, read by the status endpoint and the guardian /status command.
var (
	batchesScreened  atomic.Uint64
	batchesRejected  atomic.Uint64
	batchesForwarded atomic.Uint64
	callsValidated   atomic.Uint64
	oracleReads      atomic.Uint64
)

func CountBatchScreened()  { batchesScreened.Add(1) }
func CountBatchRejected()  { batchesRejected.Add(1) }
func CountBatchForwarded() { batchesForwarded.Add(1) }
func CountCallValidated()  { callsValidated.Add(1) }
func CountOracleRead()     { oracleReads.Add(1) }

// Snapshot is a plain-value copy of the counters for status surfaces.
type Snapshot struct {
	BatchesScreened  uint64 `json:"batches_screened"`
	BatchesRejected  uint64 `json:"batches_rejected"`
	BatchesForwarded uint64 `json:"batches_forwarded"`
	CallsValidated   uint64 `json:"calls_validated"`
	OracleReads      uint64 `json:"oracle_reads"`
}

func Stats() Snapshot {
	return Snapshot{
		BatchesScreened:  batchesScreened.Load(),
		BatchesRejected:  batchesRejected.Load(),
		BatchesForwarded: batchesForwarded.Load(),
		CallsValidated:   callsValidated.Load(),
		OracleReads:      oracleReads.Load(),
	}
}
