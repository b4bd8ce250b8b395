// Package recorder records camera frames and microphone audio to MP4.
//
// Captured frames arrive at an irregular rate. A FramePacer re-times them
// onto a fixed cadence, repeating the previous frame when the camera falls
// behind so that video length always matches the wall time the audio
// covers. Paced frames are converted to I420 by a small ConvertPool, put
// back in order by an OrderedQueue and encoded sequentially to an H.264
// elementary stream. On stop the stream and the buffered PCM are muxed
// into an MP4 file.
//
// # Architecture
//
//	FrameSource -> FramePacer -> ConvertPool (parallel) -> OrderedQueue
//	  -> H264StreamEncoder (sequential) -> MuxMP4 -> <name>.mp4
//	AudioSink -> AudioBuffer ---------------------------------^
//
// A Session owns one pipeline per recording and moves through the states
// Idle, Collecting, Encoding and Saving. Observers are told about state
// changes from a separate goroutine; WebSocketNotifier relays them to
// browsers and RTPTap streams the encoded video as RTP for live preview.
//
// # Native Libraries
//
// H.264 encoding loads libmedia_h264 (x264) at runtime through purego.
// Set MEDIA_H264_LIB_PATH to the library file, or MEDIA_SDK_LIB_PATH to
// the directory containing it. Other encoders can be plugged in with
// RegisterVideoEncoder or SessionConfig.NewEncoder.
//
// # Build Tags
//
//   - noh264: compile without the native encoder
package recorder
