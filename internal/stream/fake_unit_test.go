package stream

import "github.com/colinmarsh/auhalstream/internal/coreaudio"

// fakeUnit stands in for a real AUHAL coreaudio.Unit so the orchestration
// and realtime-dispatch logic in this package can be exercised without cgo
// or real hardware. Tests drive the realtime path directly by calling
// dispatcher.Render, the same method the platform callback trampoline would
// call from the audio thread.
type fakeUnit struct {
	dispatcher coreaudio.Dispatcher
	granted    coreaudio.Granted

	startCalls int
	stopCalls  int
	resetCalls []coreaudio.Bus
	disposed   bool

	startErr error
	stopErr  error

	sampleTime float64
}

func newFakeUnit(dispatcher coreaudio.Dispatcher, granted coreaudio.Granted) *fakeUnit {
	return &fakeUnit{dispatcher: dispatcher, granted: granted}
}

func (f *fakeUnit) Start() error {
	f.startCalls++
	return f.startErr
}

func (f *fakeUnit) Stop() error {
	f.stopCalls++
	return f.stopErr
}

func (f *fakeUnit) Reset(bus coreaudio.Bus) error {
	f.resetCalls = append(f.resetCalls, bus)
	return nil
}

func (f *fakeUnit) Dispose() error {
	f.disposed = true
	return nil
}

func (f *fakeUnit) CurrentTime() (float64, float64, bool) {
	return f.sampleTime, f.sampleTime, true
}

func (f *fakeUnit) Granted() coreaudio.Granted {
	return f.granted
}

// render delivers one RenderEvent straight to the dispatcher, as if the
// realtime thread had just invoked the callback.
func (f *fakeUnit) render(event coreaudio.RenderEvent) error {
	return f.dispatcher.Render(event)
}
