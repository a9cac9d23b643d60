// Package preflight provides readiness checks for the directories, binaries,
// and external services finalcut depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start workers when a
//     required check fails.
//   - The CLI "finalcut status" command prints every result, including the
//     network checks for the analysis and render collaborators.
//
// Collaborator checks are skipped when the collaborator is not configured.
package preflight
