// Package events publishes ledger events (account creation, completed
// transfers) after the owning transaction commits. Delivery is best effort:
// publishers are reached through the ledger decorator, which logs failures
// instead of surfacing them to the conversation.
package events
