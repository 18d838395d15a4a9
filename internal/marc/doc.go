// Package marc models MARCXML bibliographic records as typed control and
// data fields, and carries the record edits the pipeline performs: item
// normalization on ingest, note propagation, and the digitized/permanence/
// link rewrite sent back to the catalog.
package marc
