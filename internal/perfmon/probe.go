package perfmon

import "runtime"

// ResourceProbe supplies the resource readings for a sample.
type ResourceProbe interface {
	MemoryMB() float64
	// BatteryLevel is in [0,1].
	BatteryLevel() float64
}

// RuntimeProbe reads heap usage from the Go runtime. The process has no
// battery of its own, so it always reports a full one; hosts on battery
// power supply their own probe.
type RuntimeProbe struct{}

func (RuntimeProbe) MemoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Alloc) / (1 << 20)
}

func (RuntimeProbe) BatteryLevel() float64 { return 1 }

// StaticProbe reports fixed readings.
type StaticProbe struct {
	Memory  float64
	Battery float64
}

func (p StaticProbe) MemoryMB() float64     { return p.Memory }
func (p StaticProbe) BatteryLevel() float64 { return p.Battery }
