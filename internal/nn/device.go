package nn

import "fmt"

// Device names the backend a network computes on.
type Device string

// CPU is the host backend. gonum computes every matrix product on the host.
const CPU Device = "cpu"

// Available reports whether computation can be placed on d.
func Available(d Device) bool {
	return d == CPU
}

// SelectDevice picks the device used for the lifetime of the process.
func SelectDevice() Device {
	return CPU
}

func checkDevice(d Device) error {
	if !Available(d) {
		return fmt.Errorf("device %q is not available", d)
	}
	return nil
}
