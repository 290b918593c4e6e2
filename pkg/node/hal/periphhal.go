package hal

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// pwmPeriod is the software PWM period used to drive duty percent on a plain
// GPIO pin; periph.io's gpio.PinIO exposes no universal hardware-PWM method,
// so duty is approximated by toggling the pin on a fixed-period ticker.
const pwmPeriod = 20 * time.Millisecond

// PeriphHAL drives an output pin with software PWM and reads bus
// voltage/shunt current off an I2C power monitor (INA219-style register
// layout), the real-hardware counterpart the fakes in tests stand in for.
type PeriphHAL struct {
	pin   gpio.PinOut
	sense i2c.Dev

	mu      sync.Mutex
	duty    int
	stopCh  chan struct{}
	running bool
}

// NewPeriphHAL wires pin as the load switch and sense as the power monitor's
// I2C device handle.
func NewPeriphHAL(pin gpio.PinOut, sense i2c.Dev) *PeriphHAL {
	h := &PeriphHAL{pin: pin, sense: sense}
	h.start()
	return h
}

func (h *PeriphHAL) start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.mu.Unlock()

	go h.pwmLoop()
}

func (h *PeriphHAL) pwmLoop() {
	ticker := time.NewTicker(pwmPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			duty := h.duty
			h.mu.Unlock()

			if duty <= 0 {
				_ = h.pin.Out(gpio.Low)
				continue
			}
			if duty >= 100 {
				_ = h.pin.Out(gpio.High)
				continue
			}

			onTime := pwmPeriod * time.Duration(duty) / 100
			_ = h.pin.Out(gpio.High)
			time.Sleep(onTime)
			_ = h.pin.Out(gpio.Low)
			time.Sleep(pwmPeriod - onTime)
		}
	}
}

// SetDuty records the new duty percent; the next PWM cycle picks it up.
func (h *PeriphHAL) SetDuty(percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	h.mu.Lock()
	h.duty = percent
	h.mu.Unlock()
	return nil
}

// ReadVoltageCurrent reads the bus-voltage and shunt-current registers of an
// INA219-style power monitor over I2C.
func (h *PeriphHAL) ReadVoltageCurrent() (volts, milliamps float64, ok bool) {
	var buf [2]byte

	if err := h.sense.Tx([]byte{0x02}, buf[:]); err != nil {
		return 0, 0, false
	}
	busRaw := int(buf[0])<<8 | int(buf[1])
	volts = float64(busRaw>>3) * 0.004 // 4mV per LSB, bottom 3 bits are status flags

	if err := h.sense.Tx([]byte{0x01}, buf[:]); err != nil {
		return volts, 0, false
	}
	shuntRaw := int16(uint16(buf[0])<<8 | uint16(buf[1]))
	milliamps = float64(shuntRaw) * 0.1 // calibration-dependent current LSB

	return volts, milliamps, true
}

// Close stops the software PWM loop.
func (h *PeriphHAL) Close() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()
	return nil
}
