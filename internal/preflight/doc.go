// Package preflight provides readiness checks for the converter and the
// dataset folders bidskit reads and writes.
//
// These checks run in two contexts:
//   - The coiner calls RunAll before touching a dataset. If any required
//     check fails, coining stops before the first session.
//   - The CLI "bidskit test" command prints every result so operators can
//     fix their setup.
package preflight
