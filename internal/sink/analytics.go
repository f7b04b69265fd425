package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
)

// Analytics exports latest device readings as prometheus gauges.
type Analytics struct {
	BatteryVoltage  *prometheus.GaugeVec
	ChargerCurrent  *prometheus.GaugeVec
	PVVoltage       *prometheus.GaugeVec
	InverterCurrent *prometheus.GaugeVec
	DailyKWH        *prometheus.GaugeVec
	Mode            *prometheus.GaugeVec
	LastUpdate      prometheus.Gauge
}

func NewAnalytics(reg prometheus.Registerer) *Analytics {
	f := promauto.With(reg)
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: "solarmate", Subsystem: "device", Name: name, Help: help}, labels)
	}
	return &Analytics{
		BatteryVoltage:  gauge("battery_volts", "Battery voltage seen by device", "source"),
		ChargerCurrent:  gauge("charger_amperes", "Charger output current", "source"),
		PVVoltage:       gauge("pv_volts", "PV array voltage", "source"),
		InverterCurrent: gauge("inverter_amperes", "Inverter output current", "source"),
		DailyKWH:        gauge("daily_kwh", "Energy produced today", "source"),
		Mode:            gauge("mode", "Current operating or charger mode code", "source", "field"),
		LastUpdate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "solarmate", Subsystem: "device", Name: "last_update_timestamp_seconds",
			Help: "Capture time of latest status collection",
		}),
	}
}

func (self *Analytics) Name() string { return "analytics" }

func (self *Analytics) Handle(c *types.Collection) error {
	for _, p := range c.Packets {
		switch x := p.(type) {
		case mate.FXStatus:
			src := x.Source()
			self.BatteryVoltage.WithLabelValues(src).Set(x.BatteryVoltage())
			self.ChargerCurrent.WithLabelValues(src).Set(float64(x.ChargerCurrent))
			self.InverterCurrent.WithLabelValues(src).Set(float64(x.InverterCurrent))
			self.Mode.WithLabelValues(src, "operating_mode").Set(float64(x.OperatingMode))
			self.Mode.WithLabelValues(src, "error_mode").Set(float64(x.ErrorMode))
		case mate.MXStatus:
			src := x.Source()
			self.BatteryVoltage.WithLabelValues(src).Set(x.BatteryVoltage())
			self.ChargerCurrent.WithLabelValues(src).Set(x.ChargingCurrent())
			self.PVVoltage.WithLabelValues(src).Set(float64(x.PVVoltage))
			self.DailyKWH.WithLabelValues(src).Set(float64(x.DailyKWHTenths) / 10)
			self.Mode.WithLabelValues(src, "charger_mode").Set(float64(x.ChargerMode))
			self.Mode.WithLabelValues(src, "aux_mode").Set(float64(x.AuxMode))
		}
	}
	self.LastUpdate.Set(float64(c.Time.UnixNano()) / 1e9)
	return nil
}
