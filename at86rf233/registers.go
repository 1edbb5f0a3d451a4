// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package at86rf233

// SPI command bytes, or'd with the register address where applicable.
const (
	SPI_REG_READ  = 0x80
	SPI_REG_WRITE = 0xC0
	SPI_FB_READ   = 0x20
	SPI_FB_WRITE  = 0x60
)

const (
	REG_TRX_STATUS   = 0x01
	REG_TRX_STATE    = 0x02
	REG_TRX_CTRL_0   = 0x03
	REG_TRX_CTRL_1   = 0x04
	REG_PHY_TX_PWR   = 0x05
	REG_PHY_RSSI     = 0x06
	REG_PHY_ED_LEVEL = 0x07
	REG_PHY_CC_CCA   = 0x08
	REG_IRQ_MASK     = 0x0E
	REG_IRQ_STATUS   = 0x0F
	REG_VREG_CTRL    = 0x10
	REG_XAH_CTRL_1   = 0x17
	REG_PART_NUM     = 0x1C
	REG_VERSION_NUM  = 0x1D
	REG_SHORT_ADDR_0 = 0x20
	REG_SHORT_ADDR_1 = 0x21
	REG_PAN_ID_0     = 0x22
	REG_PAN_ID_1     = 0x23
	REG_IEEE_ADDR_0  = 0x24 // through 0x2B
	REG_XAH_CTRL_0   = 0x2C
	REG_CSMA_SEED_0  = 0x2D
	REG_CSMA_SEED_1  = 0x2E
	REG_CSMA_BE      = 0x2F

	// TRX_STATUS[4:0] values
	STATUS_P_ON         = 0x00
	STATUS_BUSY_RX      = 0x01
	STATUS_BUSY_TX      = 0x02
	STATUS_RX_ON        = 0x06
	STATUS_TRX_OFF      = 0x08
	STATUS_PLL_ON       = 0x09
	STATUS_SLEEP        = 0x0F
	STATUS_BUSY_RX_ACK  = 0x11
	STATUS_BUSY_TX_ARET = 0x12
	STATUS_RX_AACK_ON   = 0x16
	STATUS_TX_ARET_ON   = 0x19
	STATUS_MASK         = 0x1F

	// TRX_STATE[4:0] commands
	CMD_NOP           = 0x00
	CMD_TX_START      = 0x02
	CMD_FORCE_TRX_OFF = 0x03
	CMD_FORCE_PLL_ON  = 0x04
	CMD_RX_ON         = 0x06
	CMD_TRX_OFF       = 0x08
	CMD_PLL_ON        = 0x09
	CMD_RX_AACK_ON    = 0x16
	CMD_TX_ARET_ON    = 0x19

	// TRX_STATE[7:5], result of the last extended-mode transaction
	TRAC_SUCCESS         = 0
	TRAC_SUCCESS_PENDING = 1
	TRAC_SUCCESS_WAIT    = 2
	TRAC_CHANNEL_FAIL    = 3
	TRAC_NO_ACK          = 5
	TRAC_INVALID         = 7

	// IRQ_MASK / IRQ_STATUS bits
	IRQ_PLL_LOCK   = 1 << 0
	IRQ_PLL_UNLOCK = 1 << 1
	IRQ_RX_START   = 1 << 2
	IRQ_TRX_END    = 1 << 3
	IRQ_CCA_ED     = 1 << 4
	IRQ_AMI        = 1 << 5
	IRQ_TRX_UR     = 1 << 6
	IRQ_BAT_LOW    = 1 << 7

	// XAH_CTRL_1 bits
	AACK_PROM_MODE = 1 << 1

	PART_AT86RF233 = 0x0B

	CHANNEL_MASK = 0x1F
)

// txPowers maps dBm to PHY_TX_PWR codes, from the rf233 datasheet table 9-9. Values
// between entries round down to the next weaker setting.
var txPowers = []struct {
	dbm  int8
	code byte
}{
	{4, 0x00}, {3, 0x03}, {2, 0x05}, {1, 0x06}, {0, 0x07},
	{-1, 0x08}, {-2, 0x09}, {-3, 0x0A}, {-4, 0x0B}, {-6, 0x0C},
	{-8, 0x0D}, {-12, 0x0E}, {-17, 0x0F},
}

// register values to initialize the chip, this array has pairs of <address, data>
var configRegs = []byte{
	REG_TRX_CTRL_1, 0x20, // auto CRC on tx
	REG_IRQ_MASK, IRQ_TRX_END, // completion interrupts only
	REG_XAH_CTRL_0, 0x38, // 3 frame retries, 4 CSMA retries
	REG_CSMA_BE, 0x53, // min BE 3, max BE 5
	REG_PHY_TX_PWR, 0x07, // 0dBm
	REG_PHY_CC_CCA, 0x2B, // CCA mode 1, channel 11
}
