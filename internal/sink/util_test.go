package sink

import (
	"time"

	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
)

var testEpoch = time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)

func testStatus(id string) *types.Collection {
	loc := time.FixedZone("UTC+3", 3*3600)
	return &types.Collection{
		ID:       id,
		Channel:  types.KindStatus,
		Time:     testEpoch,
		Location: loc,
		Packets: []types.Packet{
			mate.FXStatus{Address: 0, InverterCurrent: 2, OperatingMode: 2, BatteryTenths: 252},
			mate.MXStatus{Address: 1, ChargerCurrent: 12, ChargerCurrentTenths: 5, PVVoltage: 67, DailyKWHTenths: 21, ChargerMode: 2, BatteryTenths: 262},
		},
	}
}
