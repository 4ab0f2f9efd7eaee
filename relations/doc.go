// Package relations resolves typed relations between document models and keeps
// many-to-many associations stored as id arrays embedded on both documents.
//
// Relations are declared once per model in a Registry. A Manager then turns
// relation intents into filters over the related collection, loads relations
// for batches of parents, translates has/whereHas counts into predicates, and
// reconciles pivot arrays with attach, detach and sync.
//
// Nothing here uses multi-document transactions. Owner and related sides of a
// pivot are written independently; re-running Sync with the same targets
// converges both sides.
package relations
