// Package instrument defines the laser and detector collaborators consumed by
// the acquisition and stage code, plus a line-oriented serial adapter that
// sends them their fixed command strings.
package instrument

// Laser is a tunable source.
type Laser interface {
	// SetWavelength tunes the source to nm.
	SetWavelength(nm float64) error
	// SetPower sets the output level in dBm.
	SetPower(dbm float64) error
	// EnableOutput switches the optical output on or off.
	EnableOutput(on bool) error
	// CurrentWavelength returns the wavelength the source reports, in nm.
	CurrentWavelength() (float64, error)
}

// Detector is an optical power meter.
type Detector interface {
	// ReadPower returns the measured power in dBm.
	ReadPower() (float64, error)
}
