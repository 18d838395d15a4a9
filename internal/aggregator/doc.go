// Package aggregator submits a batch's bibliographic records to the
// cataloging aggregator over FTPS and reads back its acceptance report.
//
// A batch is delivered as one MARCXML collection named {job}.xml. The
// aggregator later drops a text report whose body contains
// "0 items skipped/error" when every record was loaded.
package aggregator
