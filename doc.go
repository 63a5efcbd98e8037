// Package photocheck checks delivery photos while they are being framed.
//
// A live video source feeds a latest-frame mailbox. A loop controller samples
// the newest frame, hands it to an inference boundary that owns the image
// classifier, and maps the label confidences to a caller-facing decision
// through an ordered rule table.
//
// Design:
//   - At most one inference in flight; a busy boundary rejects, never queues
//   - Frames move by ownership transfer into the boundary
//   - The loop re-arms itself after each decision and waits for an external
//     readiness signal when the source has no frame
//   - Rules are evaluated lowest order first; the first matching clause wins
//     and the catch-all rule closes the table
//
// Lifecycle: New() → StartCapture() → Status()/NotifySourceReady() → StopCapture()
package photocheck
