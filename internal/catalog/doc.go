// Package catalog describes the operations the language model may request.
// Two fixed sets exist: signup and login before authentication, transfer and
// logout after it. Each descriptor renders its JSON argument schema and
// validates raw model arguments into typed values, reporting every offending
// field at once.
package catalog
