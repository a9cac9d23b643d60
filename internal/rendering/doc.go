// Package rendering implements the render_video stage and the HTTP client for
// the external render backend.
//
// The stage snaps the assembled keeps to frames, submits them with a URL for
// the stored source, and polls the backend until the render finishes. The
// render id is saved on the job as soon as it is known, so a stage attempt
// that is interrupted resumes polling the same render instead of submitting a
// duplicate.
package rendering
