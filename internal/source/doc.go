// Package source provides live video sources for the sampler.
//
// Every source publishes decoded frames into a latest-frame Mailbox: a single
// slot that the producer overwrites and the sampler peeks. Frames that are
// overwritten before anyone looked at them are counted as drops. No frame is
// ever queued, so a slow classifier never builds a backlog.
//
// Two sources are provided: Synthetic, a generated test pattern, and Camera, a
// GStreamer pipeline reading a V4L2 device, an RTSP/HTTP URI, or
// videotestsrc.
package source
