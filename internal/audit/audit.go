// Package audit persists a durable record of every screening decision
// and every policy mutation. The journal is the evidence trail the
// guardian reaches for after a rejection: what arrived, what verdict it
// got, which rule version was live at the time.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meltingclock/safeguard_v1/internal/registry"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

type Verdict string

const (
	VerdictPassed    Verdict = "passed" // screened clean, nothing forwarded
	VerdictForwarded Verdict = "forwarded"
	VerdictRejected  Verdict = "rejected"
	VerdictShadow    Verdict = "shadow" // observed in the mempool, not executed by us
)

const schema = `
CREATE TABLE IF NOT EXISTS screenings (
	id TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	calls INTEGER NOT NULL,
	verdict TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS screenings_created_at ON screenings(created_at DESC);

CREATE TABLE IF NOT EXISTS policy_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	selector TEXT NOT NULL,
	validator TEXT NOT NULL,
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Screening is one recorded verdict. Payload is the keccak hash of the
// raw envelope, never the envelope itself; calldata may embed amounts
// and counterparties the operator does not want at rest in cleartext.
type Screening struct {
	ID        string
	Account   common.Address
	Calls     int
	Verdict   Verdict
	Reason    string
	Payload   common.Hash
	CreatedAt time.Time
}

// PolicyEvent is one registry mutation: a register or a disable, with
// the rule version the mutation produced.
type PolicyEvent struct {
	Seq       int64
	Action    string
	Key       registry.Key
	Validator string
	Version   uint64
	CreatedAt time.Time
}

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path and ensures the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	telemetry.Debugf("audit journal open at %s", path)
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordScreening journals one verdict and returns the screening ID.
// reason is empty for forwarded batches.
func (j *Journal) RecordScreening(ctx context.Context, account common.Address, envelope []byte, calls int, verdict Verdict, reason string) (string, error) {
	id := uuid.NewString()
	payload := crypto.Keccak256Hash(envelope)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO screenings (id, account, calls, verdict, reason, payload_hash, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, account.Hex(), calls, string(verdict), reason, payload.Hex(), j.now().Unix())
	if err != nil {
		return "", fmt.Errorf("record screening: %w", err)
	}
	return id, nil
}

// RecordPolicyEvent journals a registry mutation. action is "register"
// or "disable"; validator is the canonical validator name, empty when
// the mutation carries none.
func (j *Journal) RecordPolicyEvent(ctx context.Context, action string, key registry.Key, validator string, version uint64) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO policy_events (action, target, selector, validator, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		action, key.Target.Hex(), fmt.Sprintf("0x%x", key.Selector[:]), validator, version, j.now().Unix())
	if err != nil {
		return fmt.Errorf("record policy event: %w", err)
	}
	return nil
}

// RecentScreenings returns up to limit screenings, newest first.
func (j *Journal) RecentScreenings(ctx context.Context, limit int) ([]Screening, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, account, calls, verdict, reason, payload_hash, created_at FROM screenings ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query screenings: %w", err)
	}
	defer rows.Close()

	var out []Screening
	for rows.Next() {
		var s Screening
		var account, verdict, payload string
		var created int64
		if err := rows.Scan(&s.ID, &account, &s.Calls, &verdict, &s.Reason, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan screening: %w", err)
		}
		s.Account = common.HexToAddress(account)
		s.Verdict = Verdict(verdict)
		s.Payload = common.HexToHash(payload)
		s.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// PolicyEvents returns the mutation log in application order.
func (j *Journal) PolicyEvents(ctx context.Context, limit int) ([]PolicyEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, action, target, selector, validator, version, created_at FROM policy_events ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query policy events: %w", err)
	}
	defer rows.Close()

	var out []PolicyEvent
	for rows.Next() {
		var e PolicyEvent
		var target, selector string
		var created int64
		if err := rows.Scan(&e.Seq, &e.Action, &target, &selector, &e.Validator, &e.Version, &created); err != nil {
			return nil, fmt.Errorf("scan policy event: %w", err)
		}
		e.Key.Target = common.HexToAddress(target)
		if sel := common.FromHex(selector); len(sel) == 4 {
			copy(e.Key.Selector[:], sel)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByVerdict tallies screenings per verdict since the journal began.
func (j *Journal) CountByVerdict(ctx context.Context) (map[Verdict]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM screenings GROUP BY verdict`)
	if err != nil {
		return nil, fmt.Errorf("count screenings: %w", err)
	}
	defer rows.Close()

	out := make(map[Verdict]int64)
	for rows.Next() {
		var v string
		var n int64
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[Verdict(v)] = n
	}
	return out, rows.Err()
}
