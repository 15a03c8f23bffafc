package sunspec

import (
	"errors"
	"fmt"

	"github.com/simonvetter/modbus"
)

const (
	modelCommon       = 1
	modelInverterMin  = 101
	modelInverterMax  = 103
	modelNameplate    = 120
	modelEnd          = 0xFFFF
	maxSurveyedBlocks = 32
)

var errNotSunSpec = errors.New("sunspec: marker not found")

// registerReader is the subset of the modbus client the sampler needs.
type registerReader interface {
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
}

// blocks holds the start address of each model the sampler reads. Zero
// means the model is absent.
type blocks struct {
	common    uint16
	inverter  uint16
	nameplate uint16
}

// survey walks the model chain after the SunS marker at base.
func survey(r registerReader, base uint16) (blocks, error) {
	var b blocks
	marker, err := r.ReadRegisters(base, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return b, fmt.Errorf("read marker: %w", err)
	}
	if marker[0] != 0x5375 || marker[1] != 0x6e53 {
		return b, errNotSunSpec
	}
	addr := base + 2
	for n := 0; n < maxSurveyedBlocks; n++ {
		hdr, err := r.ReadRegisters(addr, 2, modbus.HOLDING_REGISTER)
		if err != nil {
			return b, fmt.Errorf("read model header at %d: %w", addr, err)
		}
		id, length := hdr[0], hdr[1]
		if id == modelEnd {
			break
		}
		switch {
		case id == modelCommon:
			b.common = addr
		case id >= modelInverterMin && id <= modelInverterMax:
			b.inverter = addr
		case id == modelNameplate:
			b.nameplate = addr
		}
		addr += length + 2
	}
	if b.inverter == 0 {
		return b, errors.New("sunspec: no inverter model found")
	}
	return b, nil
}
