// Package dispatch executes operations requested by the language model.
//
// A dispatch checks the requested name against the catalog visible to the
// session, validates the arguments and runs the ledger or session mutation.
// Domain failures are turned into text prefixed with "Error: " so the model
// can relay them; only infrastructure failures are returned as errors.
package dispatch
