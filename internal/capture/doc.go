// Package capture defines the domain types and collaborator contracts shared by
// the renderers, storage adapters, pipeline, and HTTP API of the archiver.
package capture
