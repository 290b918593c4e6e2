// Package hal is the narrow hardware-abstraction surface the command
// executor drives: a PWM
// duty set-point and a voltage/current sense pair. Concrete implementations
// live alongside a periph.io host driver; tests use a fake.
package hal

// HAL is the sensor/PWM abstraction the command executor drives. It mirrors
// periph.io/x/conn's handle-returns-(value,ok) idiom rather than returning an
// error for a sensor that is simply not present on the bus.
type HAL interface {
	// ReadVoltageCurrent samples the load once. ok is false when no sensor
	// was found on the bus at init time; volts and milliamps are then
	// whatever the driver reports (typically zero), and the caller must
	// still produce a reply rather than fail the command.
	ReadVoltageCurrent() (volts, milliamps float64, ok bool)

	// SetDuty commands the PWM driver to the given percent, 0-100.
	SetDuty(percent int) error
}
