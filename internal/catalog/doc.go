// Package catalog talks to the institution's catalog: record lookups by item
// barcode against the remote service or the local mirror, and record
// resubmission by catalog system id.
package catalog
