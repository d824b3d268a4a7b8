// Package errors defines the unified error type shared by the PayChat
// packages. Every failure carries a Code whose registered Attributes decide
// how the agent loop treats it: recoverable domain codes are rendered back
// to the model as text, while infrastructure codes abort the current chat
// and may raise an alert.
package errors
