//go:build darwin

package coreaudio

import "golang.org/x/sys/unix"

// HintRealtimePriority asks the OS not to deprioritize this process during
// playback by raising its scheduling priority, so the realtime
// render/capture path is less likely to be preempted mid-callback. Best
// effort — a sandboxed or unprivileged caller commonly lacks permission for
// this, and a failure here must never stop a stream from starting, so the
// error is discarded; AudioUnit's own internal thread still carries the
// real-time trait CoreAudio assigns it regardless.
func HintRealtimePriority() {
	_ = unix.Setpriority(unix.PRIO_PROCESS, 0, -20)
}
