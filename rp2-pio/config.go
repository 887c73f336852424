package pio

// DefaultStateMachineConfig returns the default configuration
// for a PIO state machine.
//
// The default configuration here, mirrors the state from
// pio_get_default_sm_config in the c-sdk.
func DefaultStateMachineConfig() StateMachineConfig {
	cfg := StateMachineConfig{}
	cfg.SetClkDivIntFrac(1, 0)
	cfg.SetWrap(0, 31)
	cfg.SetInShift(true, false, 32)
	cfg.SetOutShift(true, false, 32)
	return cfg
}

// StateMachineConfig holds the configuration for a PIO state
// machine.
type StateMachineConfig struct {
	// Clock divisor register for state machine N
	//  Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
	ClkDiv uint32
	// Execution/behavioural settings for state machine N
	ExecCtrl uint32
	// Control behaviour of the input/output shift registers for state machine N.
	ShiftCtrl uint32
	// State machine pin control.
	PinCtrl uint32
}

// SetClkDivIntFrac sets the clock divider for the state
// machine from a whole and fractional part.
//
//	Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
func (cfg *StateMachineConfig) SetClkDivIntFrac(whole uint16, frac uint8) {
	cfg.ClkDiv = clkDiv(whole, frac)
}

// SetClkDiv sets the clock divider from a computed [ClkDiv].
func (cfg *StateMachineConfig) SetClkDiv(div ClkDiv) {
	cfg.ClkDiv = clkDiv(div.Whole, div.Frac)
}

func clkDiv(whole uint16, frac uint8) uint32 {
	return (uint32(frac) << pio0_SM0_CLKDIV_FRAC_Pos) |
		(uint32(whole) << pio0_SM0_CLKDIV_INT_Pos)
}

// Div returns the clock divider held by the configuration.
func (cfg StateMachineConfig) Div() ClkDiv {
	return ClkDiv{
		Whole: uint16(field(cfg.ClkDiv, pio0_SM0_CLKDIV_INT_Msk, pio0_SM0_CLKDIV_INT_Pos)),
		Frac:  uint8(field(cfg.ClkDiv, pio0_SM0_CLKDIV_FRAC_Msk, pio0_SM0_CLKDIV_FRAC_Pos)),
	}
}

// SetWrap sets the wrapping configuration for the state machine
func (cfg *StateMachineConfig) SetWrap(wrapTarget uint8, wrap uint8) {
	cfg.ExecCtrl =
		(cfg.ExecCtrl & ^uint32(pio0_SM0_EXECCTRL_WRAP_TOP_Msk|pio0_SM0_EXECCTRL_WRAP_BOTTOM_Msk)) |
			(uint32(wrapTarget) << pio0_SM0_EXECCTRL_WRAP_BOTTOM_Pos) |
			(uint32(wrap) << pio0_SM0_EXECCTRL_WRAP_TOP_Pos)
}

// Wrap returns the configured wrap target and wrap addresses.
func (cfg StateMachineConfig) Wrap() (wrapTarget, wrap uint8) {
	wrapTarget = uint8(field(cfg.ExecCtrl, pio0_SM0_EXECCTRL_WRAP_BOTTOM_Msk, pio0_SM0_EXECCTRL_WRAP_BOTTOM_Pos))
	wrap = uint8(field(cfg.ExecCtrl, pio0_SM0_EXECCTRL_WRAP_TOP_Msk, pio0_SM0_EXECCTRL_WRAP_TOP_Pos))
	return wrapTarget, wrap
}

// SetInShift sets the 'in' shifting parameters in a state machine configuration
//   - shiftRight is true if ISR shift direction is right, false if left.
//   - autoPush enables automatic ISR refilling after all of the ISR bits have been consumed.
//   - pushThreshold is threshold in bits to shift in before auto/conditional re-pushing of the ISR.
func (cfg *StateMachineConfig) SetInShift(shiftRight bool, autoPush bool, pushThreshold uint16) {
	cfg.ShiftCtrl = cfg.ShiftCtrl &
		^uint32(pio0_SM0_SHIFTCTRL_IN_SHIFTDIR_Msk|
			pio0_SM0_SHIFTCTRL_AUTOPUSH_Msk|
			pio0_SM0_SHIFTCTRL_PUSH_THRESH_Msk) |
		(boolToBit(shiftRight) << pio0_SM0_SHIFTCTRL_IN_SHIFTDIR_Pos) |
		(boolToBit(autoPush) << pio0_SM0_SHIFTCTRL_AUTOPUSH_Pos) |
		(uint32(pushThreshold&0x1f) << pio0_SM0_SHIFTCTRL_PUSH_THRESH_Pos)
}

// SetOutShift sets the 'out' shifting parameters in a state machine configuration
//   - shiftRight is true if OSR shift direction is right, false if left.
//   - autoPull enables automatic OSR refilling after all of the OSR bits have been consumed.
//   - pullThreshold is threshold in bits to shift out before auto/conditional re-pulling of the OSR.
func (cfg *StateMachineConfig) SetOutShift(shiftRight bool, autoPull bool, pullThreshold uint16) {
	cfg.ShiftCtrl = cfg.ShiftCtrl &
		^uint32(pio0_SM0_SHIFTCTRL_OUT_SHIFTDIR_Msk|
			pio0_SM0_SHIFTCTRL_AUTOPULL_Msk|
			pio0_SM0_SHIFTCTRL_PULL_THRESH_Msk) |
		(boolToBit(shiftRight) << pio0_SM0_SHIFTCTRL_OUT_SHIFTDIR_Pos) |
		(boolToBit(autoPull) << pio0_SM0_SHIFTCTRL_AUTOPULL_Pos) |
		(uint32(pullThreshold&0x1f) << pio0_SM0_SHIFTCTRL_PULL_THRESH_Pos)
}

// SetSidesetParams sets the side-set parameters in a state machine configuration.
//   - bitcount is number of bits to steal from delay field in the instruction for use of side set (max 5).
//   - optional is true if the topmost side set bit is used as a flag for whether to apply side set on that instruction.
//   - pindirs is true if the side-set affects pin directions rather than values.
func (cfg *StateMachineConfig) SetSidesetParams(bitCount uint8, optional bool, pindirs bool) {
	if bitCount > 5 {
		panic("SetSideSet: bitCount")
	}
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(pio0_SM0_PINCTRL_SIDESET_COUNT_Msk)) |
		(uint32(bitCount) << uint32(pio0_SM0_PINCTRL_SIDESET_COUNT_Pos))

	cfg.ExecCtrl = (cfg.ExecCtrl & ^uint32(pio0_SM0_EXECCTRL_SIDE_EN_Msk|pio0_SM0_EXECCTRL_SIDE_PINDIR_Msk)) |
		(boolToBit(optional) << pio0_SM0_EXECCTRL_SIDE_EN_Pos) |
		(boolToBit(pindirs) << pio0_SM0_EXECCTRL_SIDE_PINDIR_Pos)
}

// SetSidesetPins sets the lowest-numbered pin that will be affected by a side-set
// operation.
func (cfg *StateMachineConfig) SetSidesetPins(firstPin Pin) {
	checkPinBaseAndCount(firstPin, 1)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(pio0_SM0_PINCTRL_SIDESET_BASE_Msk)) |
		(uint32(firstPin) << pio0_SM0_PINCTRL_SIDESET_BASE_Pos)
}

// SetOutPins sets the pins a MOV PINS instruction modifies. Can overlap with pins in IN, SET and SIDESET.
//   - Base defines the lowest-numbered pin that will be affected by a MOV PINS
//     instruction. The data written to this pin will always be
//     the least-significant bit of the MOV data.
//   - Count defines the number of pins that will be affected, 0..32 inclusive.
func (cfg *StateMachineConfig) SetOutPins(base Pin, count uint8) {
	checkPinBaseAndCount(base, count)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(pio0_SM0_PINCTRL_OUT_BASE_Msk|pio0_SM0_PINCTRL_OUT_COUNT_Msk)) |
		(uint32(base) << pio0_SM0_PINCTRL_OUT_BASE_Pos) |
		(uint32(count) << pio0_SM0_PINCTRL_OUT_COUNT_Pos)
}

// SetSetPins sets the pins a PIO 'set' instruction modifies.
// Can overlap with pins in IN, OUT and SIDESET.
// Set pins are best suited to assert control signals such as clock/chip-selects
// and trigger lines.
func (cfg *StateMachineConfig) SetSetPins(base Pin, count uint8) {
	checkPinBaseAndCount(base, count)
	if count > 5 {
		panic("pio:set count too large")
	}
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(pio0_SM0_PINCTRL_SET_BASE_Msk|pio0_SM0_PINCTRL_SET_COUNT_Msk)) |
		(uint32(base) << pio0_SM0_PINCTRL_SET_BASE_Pos) |
		(uint32(count) << pio0_SM0_PINCTRL_SET_COUNT_Pos)
}

// SetInPins in a state machine configuration. Can overlap with OUT, SET and SIDESET pins.
// WAIT PIN and MOV x, PINS index pins relative to this base.
func (cfg *StateMachineConfig) SetInPins(base Pin) {
	checkPinBaseAndCount(base, 1)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(pio0_SM0_PINCTRL_IN_BASE_Msk)) | (uint32(base) << pio0_SM0_PINCTRL_IN_BASE_Pos)
}

// SetJmpPin sets the gpio pin to use as the source for a `jmp pin` instruction.
func (cfg *StateMachineConfig) SetJmpPin(pin Pin) {
	checkPinBaseAndCount(pin, 1)
	cfg.ExecCtrl = (cfg.ExecCtrl & ^uint32(pio0_SM0_EXECCTRL_JMP_PIN_Msk)) | (uint32(pin) << pio0_SM0_EXECCTRL_JMP_PIN_Pos)
}

// SetMovStatus sets source for 'mov status' in a state machine configuration.
//   - statusSel is the status operation selector.
//   - statusN parameter for the mov status operation (currently a FIFO level).
func (cfg *StateMachineConfig) SetMovStatus(statusSel MovStatus, statusN uint32) {
	cfg.ExecCtrl = (cfg.ExecCtrl &
		^uint32(pio0_SM0_EXECCTRL_STATUS_SEL_Msk|pio0_SM0_EXECCTRL_STATUS_N_Msk)) |
		((uint32(statusSel) << pio0_SM0_EXECCTRL_STATUS_SEL_Pos) & pio0_SM0_EXECCTRL_STATUS_SEL_Msk) |
		((statusN << pio0_SM0_EXECCTRL_STATUS_N_Pos) & pio0_SM0_EXECCTRL_STATUS_N_Msk)
}

func checkPinBaseAndCount(base Pin, count uint8) {
	if base >= NumPins {
		panic("pio:bad pin")
	} else if count > 32 {
		panic("pio:count too large")
	}
}

type FifoJoin uint8

const (
	// FifoJoinNone is the default FIFO joining configuration. The RX and TX FIFOs are separate and of length 4 each.
	FifoJoinNone FifoJoin = iota
	// FifoJoinTx joins the RX and TX FIFOs into a single TX FIFO of depth 8.
	FifoJoinTx
	// FifoJoinRx joins the RX and TX FIFOs into a single RX FIFO of depth 8.
	FifoJoinRx
)

// MOV status types.
type MovStatus uint8

const (
	MovStatusTxLessthan MovStatus = iota
	MovStatusRxLessthan
)

// SetFIFOJoin Setup the FIFO joining in a state machine configuration.
func (cfg *StateMachineConfig) SetFIFOJoin(join FifoJoin) {
	if join > FifoJoinRx {
		panic("SetFIFOJoin: join")
	}
	cfg.ShiftCtrl = (cfg.ShiftCtrl & ^uint32(pio0_SM0_SHIFTCTRL_FJOIN_TX_Msk|pio0_SM0_SHIFTCTRL_FJOIN_RX_Msk)) |
		(uint32(join) << pio0_SM0_SHIFTCTRL_FJOIN_TX_Pos)
}

// fifoDepths returns the TX and RX FIFO capacities for the configured join mode.
func (cfg StateMachineConfig) fifoDepths() (tx, rx int) {
	switch {
	case cfg.ShiftCtrl&pio0_SM0_SHIFTCTRL_FJOIN_TX_Msk != 0:
		return 2 * fifoDepth, 0
	case cfg.ShiftCtrl&pio0_SM0_SHIFTCTRL_FJOIN_RX_Msk != 0:
		return 0, 2 * fifoDepth
	}
	return fifoDepth, fifoDepth
}

func boolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
