//go:build darwin

package coreaudio

/*
#cgo LDFLAGS: -framework AudioToolbox -framework AudioUnit -framework CoreAudio -framework CoreFoundation

#include <CoreAudio/CoreAudio.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"unsafe"
)

// ErrDeviceNotFound is returned by DefaultInputDevice/DefaultOutputDevice
// when the OS reports no default device of that kind at all (an empty
// device table, e.g. a headless build machine).
var ErrDeviceNotFound = errors.New("coreaudio: no default device of that kind is available")

// ListDevices enumerates every AudioDevice the HAL currently exposes,
// grounded on pa_mac_core.c's gatherDeviceInfo/InitializeDeviceInfo/
// GetChannelInfo: device count and IDs from kAudioHardwarePropertyDevices,
// then per device the name, nominal sample rate, channel counts from
// kAudioDevicePropertyStreamConfiguration, and a latency-derived default
// window from kAudioDevicePropertyLatency (falling back to the constants
// the original uses when a device declines to report its own latency).
func ListDevices() ([]DeviceInfo, error) {
	ids, err := deviceIDs()
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		info, err := describeDevice(id)
		if err != nil {
			// One misbehaving device does not invalidate the whole table;
			// the original shifts failed entries out of the array rather
			// than failing Initialize altogether.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func deviceIDs() ([]DeviceID, error) {
	addr := C.AudioObjectPropertyAddress{
		mSelector: C.kAudioHardwarePropertyDevices,
		mScope:    C.kAudioObjectPropertyScopeGlobal,
		mElement:  C.kAudioObjectPropertyElementMain,
	}

	var size C.UInt32
	if status := C.AudioObjectGetPropertyDataSize(C.kAudioObjectSystemObject, &addr, 0, nil, &size); status != 0 {
		return nil, platformErr("AudioObjectGetPropertyDataSize(kAudioHardwarePropertyDevices)", status)
	}
	count := int(size) / int(unsafe.Sizeof(C.AudioDeviceID(0)))
	if count == 0 {
		return nil, nil
	}

	raw := make([]C.AudioDeviceID, count)
	if status := C.AudioObjectGetPropertyData(C.kAudioObjectSystemObject, &addr, 0, nil, &size, unsafe.Pointer(&raw[0])); status != 0 {
		return nil, platformErr("AudioObjectGetPropertyData(kAudioHardwarePropertyDevices)", status)
	}

	ids := make([]DeviceID, count)
	for i, id := range raw {
		ids[i] = DeviceID(id)
	}
	return ids, nil
}

func describeDevice(id DeviceID) (DeviceInfo, error) {
	info := DeviceInfo{ID: id}

	name, err := deviceName(id)
	if err != nil {
		return DeviceInfo{}, err
	}
	info.Name = name
	info.DefaultSampleRate = deviceNominalSampleRate(id)

	info.MaxInputChannels = deviceChannelCount(id, true)
	info.MaxOutputChannels = deviceChannelCount(id, false)

	info.DefaultLowInputLatency, info.DefaultHighInputLatency = deviceLatencyWindow(id, true, info.DefaultSampleRate, info.MaxInputChannels)
	info.DefaultLowOutputLatency, info.DefaultHighOutputLatency = deviceLatencyWindow(id, false, info.DefaultSampleRate, info.MaxOutputChannels)

	return info, nil
}

func deviceName(id DeviceID) (string, error) {
	addr := C.AudioObjectPropertyAddress{
		mSelector: C.kAudioObjectPropertyName,
		mScope:    C.kAudioObjectPropertyScopeGlobal,
		mElement:  C.kAudioObjectPropertyElementMain,
	}
	var cfName C.CFStringRef
	size := C.UInt32(unsafe.Sizeof(cfName))
	if status := C.AudioObjectGetPropertyData(C.AudioObjectID(id), &addr, 0, nil, &size, unsafe.Pointer(&cfName)); status != 0 {
		return "", platformErr("AudioObjectGetPropertyData(kAudioObjectPropertyName)", status)
	}
	if cfName == 0 {
		return "", nil
	}
	defer C.CFRelease(C.CFTypeRef(cfName))
	return cfStringToGo(cfName), nil
}

func cfStringToGo(s C.CFStringRef) string {
	n := C.CFStringGetLength(s)
	if n == 0 {
		return ""
	}
	maxBytes := C.CFStringGetMaximumSizeForEncoding(n, C.kCFStringEncodingUTF8) + 1
	buf := make([]byte, int(maxBytes))
	ok := C.CFStringGetCString(s, (*C.char)(unsafe.Pointer(&buf[0])), maxBytes, C.kCFStringEncodingUTF8)
	if ok == 0 {
		return ""
	}
	return C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
}

func deviceNominalSampleRate(id DeviceID) float64 {
	addr := C.AudioObjectPropertyAddress{
		mSelector: C.kAudioDevicePropertyNominalSampleRate,
		mScope:    C.kAudioObjectPropertyScopeGlobal,
		mElement:  C.kAudioObjectPropertyElementMain,
	}
	var rate C.Float64
	size := C.UInt32(unsafe.Sizeof(rate))
	if status := C.AudioObjectGetPropertyData(C.AudioObjectID(id), &addr, 0, nil, &size, unsafe.Pointer(&rate)); status != 0 {
		return 0
	}
	return float64(rate)
}

func scopeFor(isInput bool) C.AudioObjectPropertyScope {
	if isInput {
		return C.kAudioDevicePropertyScopeInput
	}
	return C.kAudioDevicePropertyScopeOutput
}

// deviceChannelCount sums mNumberChannels across an AudioBufferList the way
// GetChannelInfo does, freeing the buffer list immediately afterward (§9
// "GetChannelInfo leak fix": the original leaks this allocation).
func deviceChannelCount(id DeviceID, isInput bool) int {
	addr := C.AudioObjectPropertyAddress{
		mSelector: C.kAudioDevicePropertyStreamConfiguration,
		mScope:    scopeFor(isInput),
		mElement:  C.kAudioObjectPropertyElementMain,
	}
	var size C.UInt32
	if status := C.AudioObjectGetPropertyDataSize(C.AudioObjectID(id), &addr, 0, nil, &size); status != 0 || size == 0 {
		return 0
	}

	bufList := (*C.AudioBufferList)(C.malloc(C.size_t(size)))
	defer C.free(unsafe.Pointer(bufList))

	if status := C.AudioObjectGetPropertyData(C.AudioObjectID(id), &addr, 0, nil, &size, unsafe.Pointer(bufList)); status != 0 {
		return 0
	}

	channels := 0
	n := int(bufList.mNumberBuffers)
	buffers := unsafe.Slice(&bufList.mBuffers[0], n)
	for _, b := range buffers {
		channels += int(b.mNumberChannels)
	}
	return channels
}

// deviceLatencyWindow mirrors GetChannelInfo's fallback-then-refine shape:
// constants unless the device reports kAudioDevicePropertyLatency, in which
// case low/high are 3x/30x the device's own frame latency expressed in
// seconds.
func deviceLatencyWindow(id DeviceID, isInput bool, sampleRate float64, channels int) (low, high float64) {
	low, high = 0.01, 0.10
	if channels == 0 || sampleRate <= 0 {
		return low, high
	}

	addr := C.AudioObjectPropertyAddress{
		mSelector: C.kAudioDevicePropertyLatency,
		mScope:    scopeFor(isInput),
		mElement:  C.kAudioObjectPropertyElementMain,
	}
	var frameLatency C.UInt32
	size := C.UInt32(unsafe.Sizeof(frameLatency))
	if status := C.AudioObjectGetPropertyData(C.AudioObjectID(id), &addr, 0, nil, &size, unsafe.Pointer(&frameLatency)); status != 0 {
		return low, high
	}

	secondLatency := float64(frameLatency) / sampleRate
	return 3 * secondLatency, 30 * secondLatency
}

// DefaultInputDevice and DefaultOutputDevice report the HAL's current
// default device of each kind; gatherDeviceInfo falls back to the first
// device with the relevant channel count when the OS query itself fails,
// which this implementation mirrors.
func DefaultInputDevice() (DeviceID, error) {
	return defaultDevice(C.kAudioHardwarePropertyDefaultInputDevice, true)
}

func DefaultOutputDevice() (DeviceID, error) {
	return defaultDevice(C.kAudioHardwarePropertyDefaultOutputDevice, false)
}

func defaultDevice(selector C.AudioObjectPropertySelector, isInput bool) (DeviceID, error) {
	addr := C.AudioObjectPropertyAddress{
		mSelector: selector,
		mScope:    C.kAudioObjectPropertyScopeGlobal,
		mElement:  C.kAudioObjectPropertyElementMain,
	}
	var id C.AudioDeviceID
	size := C.UInt32(unsafe.Sizeof(id))
	if status := C.AudioObjectGetPropertyData(C.kAudioObjectSystemObject, &addr, 0, nil, &size, unsafe.Pointer(&id)); status == 0 && id != 0 {
		return DeviceID(id), nil
	}

	ids, err := deviceIDs()
	if err != nil {
		return 0, err
	}
	for _, candidate := range ids {
		channels := deviceChannelCount(candidate, isInput)
		if channels > 0 {
			return candidate, nil
		}
	}
	return 0, ErrDeviceNotFound
}
