// Package streamdec decodes length-prefixed H.264 elementary streams into
// RGB-family frames, backed by native decode libraries (libmedia_*).
//
// Key pieces include:
//   - Decoder: a single decode session driving an asynchronous submit/sync codec
//   - Bitstream and SurfacePool: the buffered input and the bounded frame surfaces
//   - Extractor/Converter/VideoScaler: surface to caller buffer conversion
//   - Registry: several independent sessions in one process behind opaque handles
//
// # Architecture
//
//	bytes -> Bitstream -> Backend.DecodeAsync(surface) -> SyncToken FIFO
//	      -> Backend.Sync -> Extractor -> FrameBuffer -> SurfacePool.Release
//
// A Decoder is driven by one goroutine: call Decode after every received
// payload, then GetFrame until it reports StatusNotReady. Registry is safe for
// concurrent use and only serializes session creation and removal.
//
// # Native Libraries
//
// Backends load libmedia_qsv (hardware, Quick Sync style) and libmedia_h264
// (software, OpenH264) through purego. Set MEDIA_SDK_LIB_PATH to the
// directory containing these libraries. ProviderNull needs no native code and
// emits blank frames sized from the stream header.
//
// # Build Tags
//
// Optional tags disable backends:
//   - noqsv, noh264: disable the hardware or software native backend
package streamdec
