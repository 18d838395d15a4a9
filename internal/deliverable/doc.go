// Package deliverable assembles the archive submitted to the preservation
// partner for one package.
//
// Build copies the page images, layout and OCR text, manifest, record and
// capture sidecar into a flat staging directory, writes checksum.md5 with one
// "<md5> <name>" line per file, re-verifies every line, zips the directory to
// {process_dir}/{id}.zip and removes the staging directory.
package deliverable
