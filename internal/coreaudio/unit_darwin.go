//go:build darwin

package coreaudio

/*
#cgo LDFLAGS: -framework AudioToolbox -framework AudioUnit -framework CoreAudio -framework CoreFoundation

#include <AudioToolbox/AudioToolbox.h>
#include <AudioUnit/AudioUnit.h>
#include <CoreAudio/CoreAudio.h>
#include <stdlib.h>
#include <string.h>

static const AudioUnitElement kInputElement  = 1;
static const AudioUnitElement kOutputElement = 0;

extern OSStatus goRenderCallback(void *inRefCon,
                                  AudioUnitRenderActionFlags *ioActionFlags,
                                  const AudioTimeStamp *inTimeStamp,
                                  UInt32 inBusNumber,
                                  UInt32 inNumberFrames,
                                  AudioBufferList *ioData);

static OSStatus installCallback(AudioUnit unit, UInt32 busElement, int isInput, void *refcon) {
    AURenderCallbackStruct cb;
    cb.inputProc = goRenderCallback;
    cb.inputProcRefCon = refcon;
    AudioUnitPropertyID key = isInput ? kAudioOutputUnitProperty_SetInputCallback
                                       : kAudioUnitProperty_SetRenderCallback;
    AudioUnitScope scope = isInput ? kAudioUnitScope_Global : kAudioUnitScope_Input;
    return AudioUnitSetProperty(unit, key, scope, busElement, &cb, sizeof(cb));
}

// renderFromInputUnit implements the -10874 (kAudioUnitErr_TooManyFramesToProcess)
// halve-and-retry loop from the reference mac_core capture path: some devices
// reject the frame count AudioUnitRender was asked for right after a sample
// rate change takes effect, but accept it once. Retrying at half the frame
// count converges quickly and bounds the number of retries since frames
// halves every iteration.
static OSStatus renderFromInputUnit(AudioUnit unit, AudioUnitRenderActionFlags *flags,
                                     const AudioTimeStamp *ts, UInt32 *frames,
                                     AudioBufferList *bufferList) {
    OSStatus err;
    do {
        err = AudioUnitRender(unit, flags, ts, kInputElement, *frames, bufferList);
        if (err == -10874) {
            *frames /= 2;
        }
    } while (err == -10874 && *frames > 1);
    return err;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// registry maps the small integer ref-con handed to CoreAudio back to the Go
// *darwinUnit that owns the callback, the same indirection rtaudio's device.go
// uses for its goCallback trampoline: CoreAudio can only carry a raw pointer
// through inRefCon, so Go state lives in a table keyed by a stable int rather
// than passing a Go pointer across the cgo boundary directly.
var (
	registryMu  sync.Mutex
	registry    = map[int]*darwinUnit{}
	registryNext int
)

func registerUnit(u *darwinUnit) int {
	registryMu.Lock()
	defer registryMu.Unlock()
	id := registryNext
	registryNext++
	registry[id] = u
	return id
}

func unregisterUnit(id int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

func lookupUnit(id int) *darwinUnit {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[id]
}

//export goRenderCallback
func goRenderCallback(refcon unsafe.Pointer, flags *C.AudioUnitRenderActionFlags,
	ts *C.AudioTimeStamp, busNumber C.UInt32, numFrames C.UInt32,
	ioData *C.AudioBufferList) C.OSStatus {

	id := int(uintptr(refcon))
	u := lookupUnit(id)
	if u == nil || u.disposed.Load() {
		return 0
	}

	bus := BusOutput
	if busNumber == C.UInt32(kInputBusNumber) {
		bus = BusInput
	}

	timestamp := Timestamp{
		SampleTime: 0,
		HostTime:   0,
		Valid:      ts != nil,
	}
	if ts != nil {
		timestamp.SampleTime = float64(ts.mSampleTime)
		timestamp.HostTime = uint64(ts.mHostTime)
	}

	event := RenderEvent{Bus: bus, Timestamp: timestamp, Frames: int(numFrames)}

	if bus == BusInput {
		// Case C/D: a dedicated capture cycle on a simplex or
		// separate-device input unit.
		frames := numFrames
		status := C.renderFromInputUnit(u.inputUnit, flags, ts, &frames, u.inputBufferList)
		if status != 0 {
			return status
		}
		event.Frames = int(frames)
		event.Channels = u.inChannels
		event.Input = u.inScratch[:event.Frames*u.inChannels]
		copyBufferListToGo(u.inputBufferList, event.Input, u.inChannels, event.Frames)
	} else {
		event.Channels = u.outChannels
		event.Output = u.outScratch[:event.Frames*u.outChannels]
		if u.hasInput && u.sameDevice {
			// Case A: same unit serves both scopes; pull input for this
			// cycle before handing both spans to the dispatcher.
			frames := numFrames
			status := C.renderFromInputUnit(u.outputUnit, flags, ts, &frames, u.inputBufferList)
			if status != 0 {
				return status
			}
			event.Input = u.inScratch[:int(frames)*u.inChannels]
			copyBufferListToGo(u.inputBufferList, event.Input, u.inChannels, int(frames))
		}
	}

	if err := u.dispatcher.Render(event); err != nil {
		return -1
	}

	if bus == BusOutput && ioData != nil {
		copyGoToBufferList(ioData, event.Output, u.outChannels, event.Frames)
	}
	return 0
}

const kInputBusNumber = 1

func copyBufferListToGo(bl *C.AudioBufferList, dst []float32, channels, frames int) {
	if bl == nil || bl.mNumberBuffers == 0 {
		return
	}
	buf := bl.mBuffers[0]
	n := frames * channels
	if n > len(dst) {
		n = len(dst)
	}
	src := unsafe.Slice((*float32)(buf.mData), n)
	copy(dst[:n], src)
}

func copyGoToBufferList(bl *C.AudioBufferList, src []float32, channels, frames int) {
	if bl == nil || bl.mNumberBuffers == 0 {
		return
	}
	buf := &bl.mBuffers[0]
	n := frames * channels
	if n > len(src) {
		n = len(src)
	}
	dst := unsafe.Slice((*float32)(buf.mData), n)
	copy(dst, src[:n])
}

// darwinUnit is the concrete Unit implementation backed by one or two
// AudioComponentInstances (separate input/output units for the
// different-device case, a single duplex unit for the same-device case;
// §4.2 step 2 "device binding").
type darwinUnit struct {
	regID int

	outputUnit C.AudioUnit
	inputUnit  C.AudioUnit
	hasOutput  bool
	hasInput   bool
	sameDevice bool

	inputBufferList *C.AudioBufferList

	timeDevice C.AudioDeviceID

	dispatcher Dispatcher
	inScratch  []float32
	outScratch []float32
	inChannels, outChannels int

	granted  Granted
	disposed atomic.Bool
	started  atomic.Bool
}

func callSite() string {
	_, file, line, _ := runtime.Caller(2)
	return fmt.Sprintf("%s:%d", file, line)
}

func platformErr(op string, status C.OSStatus) error {
	if status == 0 {
		return nil
	}
	return &PlatformError{Op: op, Status: int32(status), Source: callSite()}
}

// Open instantiates and configures one or two AUHAL AudioUnits per
// params (§4.2): find the HAL output component, bind it to the requested
// device(s), enable/disable the input and output I/O scopes, push the
// packed-float stream format and MaximumFramesPerSlice onto both scopes,
// install the render/input callback, and initialize. Any failure after a
// partial success rolls back what was already done (§4.2 "On any failure,
// undo prior steps in reverse order").
func Open(params OpenParams, dispatcher Dispatcher) (Unit, error) {
	if dispatcher == nil {
		return nil, errors.New("coreaudio: Open requires a non-nil Dispatcher")
	}

	u := &darwinUnit{dispatcher: dispatcher}
	u.hasInput = params.HasInput
	u.hasOutput = params.HasOutput
	u.sameDevice = params.HasInput && params.HasOutput && params.InputDevice == params.OutputDevice
	if params.HasOutput {
		u.timeDevice = C.AudioDeviceID(params.OutputDevice)
	} else if params.HasInput {
		u.timeDevice = C.AudioDeviceID(params.InputDevice)
	}

	var desc C.AudioComponentDescription
	desc.componentType = C.kAudioUnitType_Output
	desc.componentSubType = C.kAudioUnitSubType_HALOutput
	desc.componentManufacturer = C.kAudioUnitManufacturer_Apple

	component := C.AudioComponentFindNext(nil, &desc)
	if component == nil {
		return nil, errors.New("coreaudio: no HAL output AudioComponent available")
	}

	rollback := func() {
		if u.outputUnit != nil {
			C.AudioComponentInstanceDispose(u.outputUnit)
		}
		if u.inputUnit != nil && u.inputUnit != u.outputUnit {
			C.AudioComponentInstanceDispose(u.inputUnit)
		}
		if u.inputBufferList != nil {
			if u.inputBufferList.mBuffers[0].mData != nil {
				C.free(u.inputBufferList.mBuffers[0].mData)
			}
			C.free(unsafe.Pointer(u.inputBufferList))
			u.inputBufferList = nil
		}
	}

	if status := C.AudioComponentInstanceNew(component, &u.outputUnit); status != 0 {
		return nil, platformErr("AudioComponentInstanceNew(output)", status)
	}
	if u.sameDevice {
		u.inputUnit = u.outputUnit
	} else if u.hasInput {
		if status := C.AudioComponentInstanceNew(component, &u.inputUnit); status != 0 {
			rollback()
			return nil, platformErr("AudioComponentInstanceNew(input)", status)
		}
	}

	if err := u.configure(params); err != nil {
		rollback()
		return nil, err
	}

	u.regID = registerUnit(u)

	if err := u.installCallbacks(); err != nil {
		unregisterUnit(u.regID)
		rollback()
		return nil, err
	}

	if status := C.AudioUnitInitialize(u.outputUnit); status != 0 {
		unregisterUnit(u.regID)
		rollback()
		return nil, platformErr("AudioUnitInitialize(output)", status)
	}
	if u.inputUnit != nil && u.inputUnit != u.outputUnit {
		if status := C.AudioUnitInitialize(u.inputUnit); status != 0 {
			C.AudioUnitUninitialize(u.outputUnit)
			unregisterUnit(u.regID)
			rollback()
			return nil, platformErr("AudioUnitInitialize(input)", status)
		}
	}

	maxFrames := params.FramesPerBuffer
	u.inChannels = params.InChannels
	u.outChannels = params.OutChannels
	u.inScratch = make([]float32, maxFrames*params.InChannels)
	u.outScratch = make([]float32, maxFrames*params.OutChannels)
	u.granted = Granted{
		FramesPerBuffer: maxFrames,
		SampleRate:      params.SampleRate,
	}

	return u, nil
}

// configure applies device binding, I/O enable flags, stream format, and
// MaximumFramesPerSlice to both units per §4.2 steps 2-4, and allocates the
// input AudioBufferList. The realtime callback is installed separately by
// installCallbacks.
func (u *darwinUnit) configure(params OpenParams) error {
	one := C.UInt32(1)
	zero := C.UInt32(0)

	if u.hasOutput {
		if status := C.AudioUnitSetProperty(u.outputUnit, C.kAudioOutputUnitProperty_EnableIO,
			C.kAudioUnitScope_Output, C.kOutputElement, unsafe.Pointer(&one), C.UInt32(unsafe.Sizeof(one))); status != 0 {
			return platformErr("AudioUnitSetProperty(EnableIO,output,out-scope)", status)
		}
		dev := C.AudioDeviceID(params.OutputDevice)
		C.AudioUnitSetProperty(u.outputUnit, C.kAudioOutputUnitProperty_CurrentDevice,
			C.kAudioUnitScope_Global, C.kOutputElement, unsafe.Pointer(&dev), C.UInt32(unsafe.Sizeof(dev)))
	} else {
		C.AudioUnitSetProperty(u.outputUnit, C.kAudioOutputUnitProperty_EnableIO,
			C.kAudioUnitScope_Output, C.kOutputElement, unsafe.Pointer(&zero), C.UInt32(unsafe.Sizeof(zero)))
	}

	if u.hasInput {
		target := u.inputUnit
		if status := C.AudioUnitSetProperty(target, C.kAudioOutputUnitProperty_EnableIO,
			C.kAudioUnitScope_Input, C.kInputElement, unsafe.Pointer(&one), C.UInt32(unsafe.Sizeof(one))); status != 0 {
			return platformErr("AudioUnitSetProperty(EnableIO,input,in-scope)", status)
		}
		if !u.sameDevice {
			C.AudioUnitSetProperty(u.outputUnit, C.kAudioOutputUnitProperty_EnableIO,
				C.kAudioUnitScope_Input, C.kInputElement, unsafe.Pointer(&zero), C.UInt32(unsafe.Sizeof(zero)))
		}
		dev := C.AudioDeviceID(params.InputDevice)
		C.AudioUnitSetProperty(target, C.kAudioOutputUnitProperty_CurrentDevice,
			C.kAudioUnitScope_Global, C.kInputElement, unsafe.Pointer(&dev), C.UInt32(unsafe.Sizeof(dev)))
	}

	var format C.AudioStreamBasicDescription
	format.mSampleRate = C.Float64(params.SampleRate)
	format.mFormatID = C.kAudioFormatLinearPCM
	format.mFormatFlags = C.kAudioFormatFlagIsFloat | C.kAudioFormatFlagIsPacked
	format.mFramesPerPacket = 1
	format.mBitsPerChannel = 32

	if u.hasOutput {
		format.mChannelsPerFrame = C.UInt32(params.OutChannels)
		format.mBytesPerFrame = 4 * format.mChannelsPerFrame
		format.mBytesPerPacket = format.mBytesPerFrame
		if status := C.AudioUnitSetProperty(u.outputUnit, C.kAudioUnitProperty_StreamFormat,
			C.kAudioUnitScope_Input, C.kOutputElement, unsafe.Pointer(&format), C.UInt32(unsafe.Sizeof(format))); status != 0 {
			return platformErr("AudioUnitSetProperty(StreamFormat,output)", status)
		}
	}
	if u.hasInput {
		format.mChannelsPerFrame = C.UInt32(params.InChannels)
		format.mBytesPerFrame = 4 * format.mChannelsPerFrame
		format.mBytesPerPacket = format.mBytesPerFrame
		if status := C.AudioUnitSetProperty(u.inputUnit, C.kAudioUnitProperty_StreamFormat,
			C.kAudioUnitScope_Output, C.kInputElement, unsafe.Pointer(&format), C.UInt32(unsafe.Sizeof(format))); status != 0 {
			return platformErr("AudioUnitSetProperty(StreamFormat,input)", status)
		}
	}

	maxFrames := C.UInt32(params.FramesPerBuffer)
	if u.hasOutput {
		C.AudioUnitSetProperty(u.outputUnit, C.kAudioUnitProperty_MaximumFramesPerSlice,
			C.kAudioUnitScope_Global, C.kOutputElement, unsafe.Pointer(&maxFrames), C.UInt32(unsafe.Sizeof(maxFrames)))
	}
	if u.hasInput {
		C.AudioUnitSetProperty(u.inputUnit, C.kAudioUnitProperty_MaximumFramesPerSlice,
			C.kAudioUnitScope_Global, C.kInputElement, unsafe.Pointer(&maxFrames), C.UInt32(unsafe.Sizeof(maxFrames)))
	}

	if u.hasInput {
		u.inputBufferList = (*C.AudioBufferList)(C.malloc(C.size_t(unsafe.Sizeof(C.AudioBufferList{}))))
		u.inputBufferList.mNumberBuffers = 1
		u.inputBufferList.mBuffers[0].mNumberChannels = C.UInt32(params.InChannels)
		u.inputBufferList.mBuffers[0].mDataByteSize = C.UInt32(params.FramesPerBuffer) * 4 * C.UInt32(params.InChannels)
		u.inputBufferList.mBuffers[0].mData = C.malloc(C.size_t(u.inputBufferList.mBuffers[0].mDataByteSize))
	}

	return nil
}

// installCallbacks wires the render/input callback after registerUnit has
// assigned this unit's ref-con id; split out of configure/Open because the
// registry id does not exist until after the units are created.
func (u *darwinUnit) installCallbacks() error {
	// u.regID is a small stable integer key into the Go-side unit registry,
	// not a real pointer, so round-tripping it through unsafe.Pointer here
	// (go vet's unsafeptr check flags the uintptr->Pointer conversion) never
	// aliases Go memory the GC could move; the C side only ever hands it
	// back byte-for-byte as the callback's refcon.
	refcon := unsafe.Pointer(uintptr(u.regID))
	if u.hasOutput {
		if status := C.installCallback(u.outputUnit, C.kOutputElement, 0, refcon); status != 0 {
			return platformErr("installCallback(output)", status)
		}
	}
	if u.hasInput && !u.sameDevice {
		if status := C.installCallback(u.inputUnit, C.kInputElement, 1, refcon); status != 0 {
			return platformErr("installCallback(input)", status)
		}
	}
	return nil
}

// Start brings up input before output (§4.4 "start input unit first, then
// output unit if distinct") so the capture side has already produced at
// least one block by the time the render side starts pulling from it.
func (u *darwinUnit) Start() error {
	if u.inputUnit != nil && u.inputUnit != u.outputUnit {
		if status := C.AudioOutputUnitStart(u.inputUnit); status != 0 {
			return platformErr("AudioOutputUnitStart(input)", status)
		}
	}
	if status := C.AudioOutputUnitStart(u.outputUnit); status != 0 {
		return platformErr("AudioOutputUnitStart(output)", status)
	}
	u.started.Store(true)
	return nil
}

// Stop tears down output before input (§4.4 "stop output then input") so the
// render side is not left pulling from a capture path that has already gone
// quiet.
func (u *darwinUnit) Stop() error {
	if !u.started.Load() {
		return nil
	}
	if status := C.AudioOutputUnitStop(u.outputUnit); status != 0 {
		return platformErr("AudioOutputUnitStop(output)", status)
	}
	if u.inputUnit != nil && u.inputUnit != u.outputUnit {
		if status := C.AudioOutputUnitStop(u.inputUnit); status != 0 {
			return platformErr("AudioOutputUnitStop(input)", status)
		}
	}
	u.started.Store(false)
	return nil
}

func (u *darwinUnit) Reset(bus Bus) error {
	if bus == BusInput && u.inputUnit != nil {
		return platformErr("AudioUnitReset(input)", C.AudioUnitReset(u.inputUnit, C.kAudioUnitScope_Global, C.kInputElement))
	}
	return platformErr("AudioUnitReset(output)", C.AudioUnitReset(u.outputUnit, C.kAudioUnitScope_Global, C.kOutputElement))
}

func (u *darwinUnit) Dispose() error {
	if u.disposed.Swap(true) {
		return nil
	}
	u.Stop()
	C.AudioUnitUninitialize(u.outputUnit)
	C.AudioComponentInstanceDispose(u.outputUnit)
	if u.inputUnit != nil && u.inputUnit != u.outputUnit {
		C.AudioUnitUninitialize(u.inputUnit)
		C.AudioComponentInstanceDispose(u.inputUnit)
	}
	if u.inputBufferList != nil {
		if u.inputBufferList.mBuffers[0].mData != nil {
			C.free(u.inputBufferList.mBuffers[0].mData)
		}
		C.free(unsafe.Pointer(u.inputBufferList))
		u.inputBufferList = nil
	}
	unregisterUnit(u.regID)
	return nil
}

func (u *darwinUnit) CurrentTime() (sampleTime float64, hostSeconds float64, ok bool) {
	var ts C.AudioTimeStamp
	if status := C.AudioDeviceGetCurrentTime(u.timeDevice, &ts); status != 0 {
		return 0, 0, false
	}
	return float64(ts.mSampleTime), float64(C.AudioConvertHostTimeToNanos(ts.mHostTime)) / 1e9, true
}

func (u *darwinUnit) Granted() Granted {
	return u.granted
}
