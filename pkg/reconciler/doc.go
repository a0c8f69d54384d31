/*
Package reconciler drives each tracked repository toward its latest
upstream revision and sequences the surrounding failure machinery.

# Per-repository pass

One pass, invoked by the periodic ticker or an on-demand trigger:

 1. If the repository is in error and its latest failure record has an
    open, unresolved remediation session, only the remediation tracker
    runs; sync and build are skipped until the session resolves.
 2. Local path and display name are derived deterministically from the
    URL on first contact and persisted.
 3. Source sync: clone on first contact, pull thereafter. A sync failure
    escalates with context "sync error" and ends the pass.
 4. If the working copy changed or the repository is pending/error, the
    container lifecycle manager rebuilds and replaces the instance. A
    failure escalates with context "build/run error"; success sets the
    repository active and clears its last error fingerprint.
 5. The health scanner checks a bounded tail of recent output; a fatal
    signature escalates with context "runtime error".

# Sweep isolation and serialization

Sweeps iterate all repositories; an error or panic in one repository's
pass is reduced to a diagnostic and never affects the others. Passes for
the same repository are serialized via a per-repository lock so the
periodic and on-demand triggers cannot interleave sync and
container-replace for one repository. Across different repositories,
passes may run in parallel up to a configured bound. Each pass carries an
overall timeout so a stuck external process cannot stall the sweep.
*/
package reconciler
