// Package crawler defines the records, fetch modes, errors, and collaborator
// interfaces shared by the listing discovery and detail enrichment pipeline.
package crawler
