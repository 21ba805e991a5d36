//go:build !darwin

package coreaudio

// ListDevices, DefaultInputDevice, and DefaultOutputDevice all fail with
// ErrUnsupportedPlatform off darwin, matching Open's stub.
func ListDevices() ([]DeviceInfo, error) {
	return nil, ErrUnsupportedPlatform
}

func DefaultInputDevice() (DeviceID, error) {
	return 0, ErrUnsupportedPlatform
}

func DefaultOutputDevice() (DeviceID, error) {
	return 0, ErrUnsupportedPlatform
}
