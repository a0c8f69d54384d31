/*
Package types defines the core data model shared by all App Manager
components: tracked repositories, escalated failure records, and
process-wide settings.

# Ownership

State transitions are owned by exactly one component:

  - Repository.Status is mutated only by the reconciler.
  - FailureRecord rows are created only by the escalation component.
  - FixStatus and PRURL on an open FailureRecord are mutated only by the
    remediation tracker.

All enumerations are closed string types with exhaustive constants so
invalid states cannot be represented by construction.

# Failure history

A repository's "current" failure is its most recent FailureRecord by
creation time. While the repository is in RepoStatusError, the
repository's LastErrorHash mirrors that record's Fingerprint. Records are
kept forever as history; removal of a repository is an explicit operation
and never automatic.
*/
package types
