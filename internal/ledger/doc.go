// Package ledger defines the account ledger contract used by the agent:
// accounts keyed by a unique username, credential checks through a pluggable
// verifier, and a transfer primitive that moves funds atomically between two
// accounts. It ships an in-memory Store and a decorator that audits committed
// mutations and publishes ledger events.
package ledger
