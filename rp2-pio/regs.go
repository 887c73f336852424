package pio

// Register field positions and masks of the RP2040 PIO block, as laid out in
// the RP2040 datasheet section 3.7. StateMachineConfig stores register images
// using these fields and the simulated state machines decode them at run time.
const (
	pio0_SM0_CLKDIV_INT_Pos  = 16
	pio0_SM0_CLKDIV_INT_Msk  = 0xffff0000
	pio0_SM0_CLKDIV_FRAC_Pos = 8
	pio0_SM0_CLKDIV_FRAC_Msk = 0x0000ff00

	pio0_SM0_EXECCTRL_SIDE_EN_Pos       = 30
	pio0_SM0_EXECCTRL_SIDE_EN_Msk       = 0x40000000
	pio0_SM0_EXECCTRL_SIDE_PINDIR_Pos   = 29
	pio0_SM0_EXECCTRL_SIDE_PINDIR_Msk   = 0x20000000
	pio0_SM0_EXECCTRL_JMP_PIN_Pos       = 24
	pio0_SM0_EXECCTRL_JMP_PIN_Msk       = 0x1f000000
	pio0_SM0_EXECCTRL_OUT_EN_SEL_Pos    = 19
	pio0_SM0_EXECCTRL_OUT_EN_SEL_Msk    = 0x00f80000
	pio0_SM0_EXECCTRL_INLINE_OUT_EN_Pos = 18
	pio0_SM0_EXECCTRL_INLINE_OUT_EN_Msk = 0x00040000
	pio0_SM0_EXECCTRL_OUT_STICKY_Pos    = 17
	pio0_SM0_EXECCTRL_OUT_STICKY_Msk    = 0x00020000
	pio0_SM0_EXECCTRL_WRAP_TOP_Pos      = 12
	pio0_SM0_EXECCTRL_WRAP_TOP_Msk      = 0x0001f000
	pio0_SM0_EXECCTRL_WRAP_BOTTOM_Pos   = 7
	pio0_SM0_EXECCTRL_WRAP_BOTTOM_Msk   = 0x00000f80
	pio0_SM0_EXECCTRL_STATUS_SEL_Pos    = 4
	pio0_SM0_EXECCTRL_STATUS_SEL_Msk    = 0x00000010
	pio0_SM0_EXECCTRL_STATUS_N_Pos      = 0
	pio0_SM0_EXECCTRL_STATUS_N_Msk      = 0x0000000f

	pio0_SM0_SHIFTCTRL_FJOIN_RX_Pos     = 31
	pio0_SM0_SHIFTCTRL_FJOIN_RX_Msk     = 0x80000000
	pio0_SM0_SHIFTCTRL_FJOIN_TX_Pos     = 30
	pio0_SM0_SHIFTCTRL_FJOIN_TX_Msk     = 0x40000000
	pio0_SM0_SHIFTCTRL_PULL_THRESH_Pos  = 25
	pio0_SM0_SHIFTCTRL_PULL_THRESH_Msk  = 0x3e000000
	pio0_SM0_SHIFTCTRL_PUSH_THRESH_Pos  = 20
	pio0_SM0_SHIFTCTRL_PUSH_THRESH_Msk  = 0x01f00000
	pio0_SM0_SHIFTCTRL_OUT_SHIFTDIR_Pos = 19
	pio0_SM0_SHIFTCTRL_OUT_SHIFTDIR_Msk = 0x00080000
	pio0_SM0_SHIFTCTRL_IN_SHIFTDIR_Pos  = 18
	pio0_SM0_SHIFTCTRL_IN_SHIFTDIR_Msk  = 0x00040000
	pio0_SM0_SHIFTCTRL_AUTOPULL_Pos     = 17
	pio0_SM0_SHIFTCTRL_AUTOPULL_Msk     = 0x00020000
	pio0_SM0_SHIFTCTRL_AUTOPUSH_Pos     = 16
	pio0_SM0_SHIFTCTRL_AUTOPUSH_Msk     = 0x00010000

	pio0_SM0_PINCTRL_SIDESET_COUNT_Pos = 29
	pio0_SM0_PINCTRL_SIDESET_COUNT_Msk = 0xe0000000
	pio0_SM0_PINCTRL_SET_COUNT_Pos     = 26
	pio0_SM0_PINCTRL_SET_COUNT_Msk     = 0x1c000000
	pio0_SM0_PINCTRL_OUT_COUNT_Pos     = 20
	pio0_SM0_PINCTRL_OUT_COUNT_Msk     = 0x03f00000
	pio0_SM0_PINCTRL_IN_BASE_Pos       = 15
	pio0_SM0_PINCTRL_IN_BASE_Msk       = 0x000f8000
	pio0_SM0_PINCTRL_SIDESET_BASE_Pos  = 10
	pio0_SM0_PINCTRL_SIDESET_BASE_Msk  = 0x00007c00
	pio0_SM0_PINCTRL_SET_BASE_Pos      = 5
	pio0_SM0_PINCTRL_SET_BASE_Msk      = 0x000003e0
	pio0_SM0_PINCTRL_OUT_BASE_Pos      = 0
	pio0_SM0_PINCTRL_OUT_BASE_Msk      = 0x0000001f
)

// FDEBUG sticky flags. Each field holds one bit per state machine.
const (
	pio0_FDEBUG_TXSTALL_Pos = 24
	pio0_FDEBUG_TXOVER_Pos  = 16
	pio0_FDEBUG_RXUNDER_Pos = 8
	pio0_FDEBUG_RXSTALL_Pos = 0
)

// FDebug flag groups as returned by [PIO.FDebug]. Shift left by the state
// machine index to select a single state machine.
const (
	// FDebugTxStall is set when a blocking PULL stalled on an empty TX FIFO.
	FDebugTxStall uint32 = 1 << pio0_FDEBUG_TXSTALL_Pos
	// FDebugTxOver is set when the host wrote to a full TX FIFO.
	FDebugTxOver uint32 = 1 << pio0_FDEBUG_TXOVER_Pos
	// FDebugRxUnder is set when the host read an empty RX FIFO.
	FDebugRxUnder uint32 = 1 << pio0_FDEBUG_RXUNDER_Pos
	// FDebugRxStall is set when a blocking PUSH stalled on a full RX FIFO.
	FDebugRxStall uint32 = 1 << pio0_FDEBUG_RXSTALL_Pos
)

// field extracts a register field.
func field(reg, msk uint32, pos uint8) uint32 {
	return (reg & msk) >> pos
}

// replaceField returns reg with the field at msk/pos replaced by value.
func replaceField(reg, value, msk uint32, pos uint8) uint32 {
	return reg&^msk | (value<<pos)&msk
}
