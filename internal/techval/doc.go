// Package techval validates a package's technical files: the METS manifest
// (presence, well-formedness, structure), the recorded checksum of every
// image it lists, and the baseline TIFF tags of every page image.
//
// Every violated rule yields one Finding; rules never short-circuit, so a
// single image can produce several findings in one run.
package techval
