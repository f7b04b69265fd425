package mate

import (
	"fmt"
	"strconv"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/types"
)

const (
	TypeFXStatus = "fx_status"
	TypeMXStatus = "mx_status"
)

var ErrUnsupportedAddress = errors.New("mate: unsupported device address")

// field widths after address, checksum excluded
var (
	fxWidths = [...]int{2, 2, 2, 3, 3, 2, 2, 3, 2, 3, 3, 3}
	mxWidths = [...]int{2, 2, 2, 3, 3, 2, 2, 3, 2, 3, 4, 2}
)

// FXStatus is inverter/charger status frame, address 'A'..'K'.
type FXStatus struct {
	Address         int
	InverterCurrent int
	ChargerCurrent  int
	BuyCurrent      int
	InputVoltage    int
	OutputVoltage   int
	SellCurrent     int
	OperatingMode   int
	ErrorMode       int
	ACMode          int
	BatteryTenths   int
	Misc            int
	WarningMode     int
}

func (FXStatus) Kind() types.Kind { return types.KindStatus }
func (FXStatus) Type() string     { return TypeFXStatus }
func (self FXStatus) Source() string {
	return "fx/" + strconv.Itoa(self.Address)
}
func (self FXStatus) BatteryVoltage() float64 { return float64(self.BatteryTenths) / 10 }
func (self FXStatus) Fields() map[string]interface{} {
	return map[string]interface{}{
		"address":          self.Address,
		"inverter_current": self.InverterCurrent,
		"charger_current":  self.ChargerCurrent,
		"buy_current":      self.BuyCurrent,
		"input_voltage":    self.InputVoltage,
		"output_voltage":   self.OutputVoltage,
		"sell_current":     self.SellCurrent,
		"operating_mode":   self.OperatingMode,
		"error_mode":       self.ErrorMode,
		"ac_mode":          self.ACMode,
		"battery_voltage":  self.BatteryVoltage(),
		"misc":             self.Misc,
		"warning_mode":     self.WarningMode,
	}
}

// MXStatus is charge controller status frame, address 'a'..'k'.
type MXStatus struct {
	Address              int
	ChargerCurrent       int
	PVCurrent            int
	PVVoltage            int
	DailyKWHTenths       int
	ChargerCurrentTenths int
	AuxMode              int
	ErrorMode            int
	ChargerMode          int
	BatteryTenths        int
	DailyAH              int
}

func (MXStatus) Kind() types.Kind { return types.KindStatus }
func (MXStatus) Type() string     { return TypeMXStatus }
func (self MXStatus) Source() string {
	return "mx/" + strconv.Itoa(self.Address)
}
func (self MXStatus) BatteryVoltage() float64 { return float64(self.BatteryTenths) / 10 }
func (self MXStatus) ChargingCurrent() float64 {
	return float64(self.ChargerCurrent) + float64(self.ChargerCurrentTenths)/10
}
func (self MXStatus) Fields() map[string]interface{} {
	return map[string]interface{}{
		"address":         self.Address,
		"charger_current": self.ChargingCurrent(),
		"pv_current":      self.PVCurrent,
		"pv_voltage":      self.PVVoltage,
		"daily_kwh":       float64(self.DailyKWHTenths) / 10,
		"aux_mode":        self.AuxMode,
		"error_mode":      self.ErrorMode,
		"charger_mode":    self.ChargerMode,
		"battery_voltage": self.BatteryVoltage(),
		"daily_ah":        self.DailyAH,
	}
}

// Decode converts validated frame into typed status packet.
func Decode(f *Frame) (types.Packet, error) {
	addr := f.Address()
	switch {
	case addr >= 'A' && addr <= 'K':
		v, err := parseFields(f, fxWidths[:])
		if err != nil {
			return nil, errors.Annotate(err, "fx")
		}
		return FXStatus{
			Address:         int(addr - 'A'),
			InverterCurrent: v[0],
			ChargerCurrent:  v[1],
			BuyCurrent:      v[2],
			InputVoltage:    v[3],
			OutputVoltage:   v[4],
			SellCurrent:     v[5],
			OperatingMode:   v[6],
			ErrorMode:       v[7],
			ACMode:          v[8],
			BatteryTenths:   v[9],
			Misc:            v[10],
			WarningMode:     v[11],
		}, nil

	case addr >= 'a' && addr <= 'k':
		v, err := parseFields(f, mxWidths[:])
		if err != nil {
			return nil, errors.Annotate(err, "mx")
		}
		// v[0] and v[11] are unused by device
		return MXStatus{
			Address:              int(addr - 'a'),
			ChargerCurrent:       v[1],
			PVCurrent:            v[2],
			PVVoltage:            v[3],
			DailyKWHTenths:       v[4],
			ChargerCurrentTenths: v[5],
			AuxMode:              v[6],
			ErrorMode:            v[7],
			ChargerMode:          v[8],
			BatteryTenths:        v[9],
			DailyAH:              v[10],
		}, nil
	}
	return nil, errors.Annotatef(ErrUnsupportedAddress, "address=%q", addr)
}

func parseFields(f *Frame, widths []int) ([]int, error) {
	fields := f.Fields()
	if len(fields) != len(widths) {
		return nil, InvalidFrame(fmt.Sprintf("fields=%d expected=%d", len(fields), len(widths)))
	}
	out := make([]int, len(fields))
	for i, s := range fields {
		if len(s) != widths[i] {
			return nil, InvalidFrame(fmt.Sprintf("field[%d]=%q width expected=%d", i, s, widths[i]))
		}
		for _, c := range []byte(s) {
			if c < '0' || c > '9' {
				return nil, InvalidFrame(fmt.Sprintf("field[%d]=%q not decimal", i, s))
			}
		}
		out[i], _ = strconv.Atoi(s)
	}
	return out, nil
}
