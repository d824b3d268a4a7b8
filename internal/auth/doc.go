// Package auth provides the password verifiers used by the account ledger.
// Stores hash credentials on create and update and delegate the comparison
// on login to the configured Verifier.
package auth
