//go:build stm32f4

package main

import (
	"device/stm32"
	"machine"
)

// TIM6 is the basic timer behind the microsecond delay. The prescaler
// makes it count at 1 MHz; core.MicroDelay drives ARR, EGR, SR and CR1.
type TIM6 struct {
	tim *stm32.TIM_Type
}

// NewTIM6 enables the TIM6 clock and sets a 1 MHz count rate
func NewTIM6() *TIM6 {
	stm32.RCC.APB1ENR.SetBits(stm32.RCC_APB1ENR_TIM6EN)

	t := &TIM6{tim: stm32.TIM6}
	// APB1 timer clock is twice PCLK1 (SYSCLK/2) on the F4 defaults
	t.tim.PSC.Set(machine.CPUFrequency()/1000000 - 1)
	t.tim.CR1.SetBits(stm32.TIM_CR1_OPM)
	return t
}

func (t *TIM6) SetAutoReload(value uint32) { t.tim.ARR.Set(value) }

func (t *TIM6) GenerateUpdate() { t.tim.EGR.SetBits(stm32.TIM_EGR_UG) }

func (t *TIM6) UpdatePending() bool { return t.tim.SR.HasBits(stm32.TIM_SR_UIF) }

func (t *TIM6) ClearUpdate() { t.tim.SR.ClearBits(stm32.TIM_SR_UIF) }

func (t *TIM6) Enable() { t.tim.CR1.SetBits(stm32.TIM_CR1_CEN) }
