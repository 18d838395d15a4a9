// Package notifications delivers pipeline events to people.
//
// Each event is rendered once and fanned out to SMTP mail (when a host is
// configured) and to an ntfy topic (when one is configured). Recipients are
// derived from the event: scan and failure reports go to managers, batch
// completion goes to partner contacts, and aggregator transfer notices go to
// the aggregator contact. With neither transport configured NewService
// returns a no-op.
package notifications
