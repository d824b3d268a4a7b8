// Package llm defines the contract between the agent loop and a language
// model that supports function calling: a request is an ordered message list
// plus the callable functions, and a reply carries optional text and zero or
// more function calls. Provider adapters live in the subpackages; Scripted
// replays canned replies for tests and demos.
package llm
