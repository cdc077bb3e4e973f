// Package registry stores which validator guards each guarded entrypoint.
// A rule binds (target contract, external selector) to a validator ID plus
// its serialized config. Registrations overwrite; disabling leaves a
// tombstone so an operator can tell "never configured" from "switched off".
package registry

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/safeguard_v1/internal/cursor"
	"github.com/meltingclock/safeguard_v1/internal/telemetry"
)

// Key identifies one guarded external entrypoint.
type Key struct {
	Target   common.Address
	Selector cursor.Selector
}

func (k Key) String() string {
	return k.Target.Hex() + ":" + k.Selector.String()
}

// Rule is the stored policy for a key. Validator names a function in the
// engine table by its 4-byte ID; Config is that validator's own encoding.
type Rule struct {
	Validator cursor.Selector
	Config    []byte
	Disabled  bool
	Version   uint64
}

// Registration is one entry of a batch register call.
type Registration struct {
	Target    common.Address
	Selector  cursor.Selector
	Validator cursor.Selector
	Config    []byte
}

// Entry pairs a key with its current rule, for listings.
type Entry struct {
	Key  Key
	Rule Rule
}

type Registry struct {
	mu       sync.RWMutex
	rules    map[Key]Rule
	revision uint64
}

func New() *Registry {
	return &Registry{rules: make(map[Key]Rule)}
}

// Register binds a validator to (target, selector), overwriting any prior
// rule. Re-registering a disabled key revives it. The per-key version keeps
// counting across overwrites so auditors can order rule changes.
func (r *Registry) Register(target common.Address, selector, validator cursor.Selector, config []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(Registration{Target: target, Selector: selector, Validator: validator, Config: config})
}

// RegisterBatch applies every entry in order under one lock, so readers see
// either none or all of a governance push.
func (r *Registry) RegisterBatch(regs []Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.put(reg)
	}
}

// put assumes r.mu is held.
func (r *Registry) put(reg Registration) {
	key := Key{Target: reg.Target, Selector: reg.Selector}
	prev := r.rules[key]
	r.rules[key] = Rule{
		Validator: reg.Validator,
		Config:    append([]byte(nil), reg.Config...),
		Version:   prev.Version + 1,
	}
	r.revision++
	telemetry.Debugf("registry: rule %s -> %s v%d", key, reg.Validator, prev.Version+1)
}

// Disable tombstones a rule without discarding its config. Returns false if
// the key was never registered.
func (r *Registry) Disable(target common.Address, selector cursor.Selector) bool {
	key := Key{Target: target, Selector: selector}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[key]
	if !ok {
		return false
	}
	rule.Disabled = true
	rule.Version++
	r.rules[key] = rule
	r.revision++
	telemetry.Infof("registry: rule %s disabled at v%d", key, rule.Version)
	return true
}

// Lookup returns the current rule for (target, selector). Disabled rules are
// returned as-is; the dispatcher decides how to treat the tombstone.
func (r *Registry) Lookup(target common.Address, selector cursor.Selector) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[Key{Target: target, Selector: selector}]
	return rule, ok
}

// Revision counts every mutation since startup.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Entries lists all rules ordered by target then selector.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.rules))
	for k, rule := range r.rules {
		out = append(out, Entry{Key: k, Rule: rule})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Key.Target.Bytes(), out[j].Key.Target.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Key.Selector[:], out[j].Key.Selector[:]) < 0
	})
	return out
}
