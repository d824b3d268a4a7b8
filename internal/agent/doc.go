// Package agent drives a payment conversation against the language model.
//
// A Session holds the authenticated account and the turn history. Each Chat
// call appends the user's text and loops: one model call per iteration, at
// most one dispatched operation per reply, until the model answers without
// requesting an operation. Text produced along the way is yielded lazily.
// Manager keys sessions by id and evicts the idle ones.
package agent
