package main

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemMetrics is one heartbeat's worth of sampled sensor data, fed
// into the block's energy_metrics field and the node's metrics
// broadcast.
type SystemMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Temperature float64 `json:"temperature"`
	PowerUsage  float64 `json:"power_usage"`
}

// EnergyMonitor samples local system sensors and derives an advisory
// power-usage estimate. It never blocks longer than the configured
// sample interval, so a sensor hiccup can't stall the heartbeat duty.
type EnergyMonitor struct {
	sampleInterval time.Duration
}

// NewEnergyMonitor returns a monitor holding sampleInterval. Sample does
// not use it: it calls gopsutil's cpu.Percent with a 0 window, which
// reports CPU usage since the previous call without blocking.
func NewEnergyMonitor(sampleInterval time.Duration) *EnergyMonitor {
	return &EnergyMonitor{sampleInterval: sampleInterval}
}

// Sample reads CPU%, memory%, and a best-effort temperature, then
// derives a simple power-usage estimate from CPU and memory load. Any
// sensor that errors contributes 0 rather than failing the whole
// sample — the value is advisory, gating proposal eligibility, not
// consensus-critical.
func (m *EnergyMonitor) Sample() SystemMetrics {
	var metrics SystemMetrics

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryPercent = vm.UsedPercent
	}

	metrics.Temperature = m.readTemperature()
	metrics.PowerUsage = estimatePowerUsage(metrics.CPUPercent, metrics.MemoryPercent)

	return metrics
}

// readTemperature returns the hottest reported sensor, or 0 if the
// platform exposes none (most containers and non-ARM hosts).
func (m *EnergyMonitor) readTemperature() float64 {
	temps, err := host.SensorsTemperatures()
	if err != nil || len(temps) == 0 {
		return 0
	}
	var max float64
	for _, t := range temps {
		if t.Temperature > max {
			max = t.Temperature
		}
	}
	return max
}

// estimatePowerUsage is a simple linear model: a fixed base draw plus a
// CPU- and memory-proportional term.
func estimatePowerUsage(cpuPercent, memoryPercent float64) float64 {
	const basePower = 0.5
	cpuPower := (cpuPercent / 100) * 2.0
	memoryPower := (memoryPercent / 100) * 0.5
	return basePower + cpuPower + memoryPower
}

// ShouldThrottle reports whether any sampled metric breaches its
// threshold — the proposer's health gate (§4.6 step 3).
func ShouldThrottle(m SystemMetrics, cpuThreshold, memoryThreshold, temperatureThreshold float64) bool {
	return m.CPUPercent > cpuThreshold ||
		m.MemoryPercent > memoryThreshold ||
		(temperatureThreshold > 0 && m.Temperature > temperatureThreshold)
}

// ToEnergyMetrics converts a sample into the map[string]float64 shape a
// Block's energy_metrics field stores.
func (m SystemMetrics) ToEnergyMetrics() map[string]float64 {
	return map[string]float64{
		"cpu_percent":    m.CPUPercent,
		"memory_percent": m.MemoryPercent,
		"temperature":    m.Temperature,
		"power_usage":    m.PowerUsage,
	}
}
