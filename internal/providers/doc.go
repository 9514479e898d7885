// Package providers defines the capability contract metadata and artwork
// sources satisfy, and the registry that constructs, caches, and paces their
// instances.
package providers
