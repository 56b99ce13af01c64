// Package etroc2 declares the register map of the ETROC2 timing readout
// chip: the main space with its peripheral and 16x16 pixel matrix, and the
// waveform sampler.
package etroc2

import (
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regmap"
)

const (
	Name    = "ETROC2"
	Version = "2.0"

	Rows = 16
	Cols = 16

	PixelConfigBase = 0x8000
	PixelStatusBase = 0xC000
	PeriConfigBase  = 0x0000
	PeriStatusBase  = 0x0100

	// BroadcastBit in a pixel config address writes every pixel.
	BroadcastBit = 0x2000

	colStride = 1 << 9
	rowStride = 1 << 5
)

// PixelAddress returns the address of register reg of pixel (row, col).
func PixelAddress(base uint32, row, col int, reg uint32) uint32 {
	return base | uint32(col)*colStride | uint32(row)*rowStride | reg
}

var pixelIndexers = []regmap.Indexer{
	{Name: "row", Min: 0, Max: Rows},
	{Name: "col", Min: 0, Max: Cols},
}

var periDefaults = []uint64{
	0x2C, 0x98, 0x29, 0x18, 0x21, 0x00, 0x03, 0xA3,
	0xE3, 0xE3, 0xD0, 0x10, 0x00, 0x80, 0x96, 0x17,
	0x03, 0x01, 0x00, 0x29, 0x00, 0x00, 0x00, 0x00,
	0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var pixelDefaults = []uint64{
	0x5C, 0x06, 0x0F, 0x00, 0x00, 0x28, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func peripheralFields() []regmap.Field {
	const b = "PeriCfg"
	type P = regmap.Part
	return []regmap.Field{
		regmap.In("PLL_ClkGen_disCLK", b, "PeriCfg0", "0"),
		regmap.In("PLL_ClkGen_disDES", b, "PeriCfg0", "1"),
		regmap.In("PLL_ClkGen_disEOM", b, "PeriCfg0", "2"),
		regmap.In("PLL_ClkGen_disSER", b, "PeriCfg0", "3"),
		regmap.In("PLL_ClkGen_disVCO", b, "PeriCfg0", "4"),
		regmap.In("CLKSel", b, "PeriCfg0", "5"),
		regmap.In("PLL_FBDiv_clkTreeDisable", b, "PeriCfg0", "6"),
		regmap.In("PLL_FBDiv_skip", b, "PeriCfg0", "7"),
		regmap.In("PLL_BiasGen_CONFIG", b, "PeriCfg1", "3-0"),
		regmap.In("PLL_CONFIG_I_PLL", b, "PeriCfg1", "7-4"),
		regmap.In("PLL_CONFIG_P_PLL", b, "PeriCfg2", "3-0"),
		regmap.In("PLL_R_CONFIG", b, "PeriCfg2", "7-4"),
		regmap.In("PLL_vcoDAC", b, "PeriCfg3", "3-0"),
		regmap.In("PLL_vcoRailMode", b, "PeriCfg3", "4"),
		regmap.In("PLL_ENABLEPLL", b, "PeriCfg3", "5"),
		regmap.In("PLL_FBDiv_skip_mode", b, "PeriCfg3", "7-6"),
		regmap.In("PS_CPCurrent", b, "PeriCfg4", "3-0"),
		regmap.In("PS_CapRst", b, "PeriCfg4", "4"),
		regmap.In("PS_Enable", b, "PeriCfg4", "5"),
		regmap.In("PS_ForceDown", b, "PeriCfg4", "6"),
		regmap.In("PS_PhaseAdj", b, "PeriCfg5", "7-0"),
		regmap.In("RefStrSel", b, "PeriCfg6", "7-0"),
		regmap.In("CLK40_EnRx", b, "PeriCfg7", "0"),
		regmap.In("CLK40_EnTer", b, "PeriCfg7", "1"),
		regmap.In("CLK40_Equ", b, "PeriCfg7", "3-2"),
		regmap.In("CLK40_InvData", b, "PeriCfg7", "4"),
		regmap.In("CLK40_SetCM", b, "PeriCfg7", "5"),
		regmap.In("CLK1280_EnRx", b, "PeriCfg8", "0"),
		regmap.In("CLK1280_EnTer", b, "PeriCfg8", "1"),
		regmap.In("CLK1280_Equ", b, "PeriCfg8", "3-2"),
		regmap.In("CLK1280_InvData", b, "PeriCfg8", "4"),
		regmap.In("CLK1280_SetCM", b, "PeriCfg8", "5"),
		regmap.In("FC_EnRx", b, "PeriCfg9", "0"),
		regmap.In("FC_EnTer", b, "PeriCfg9", "1"),
		regmap.In("FC_Equ", b, "PeriCfg9", "3-2"),
		regmap.In("FC_InvData", b, "PeriCfg9", "4"),
		regmap.In("FC_SetCM", b, "PeriCfg9", "5"),
		regmap.In("disPowerSequence", b, "PeriCfg10", "0"),
		regmap.In("softBoot", b, "PeriCfg10", "1"),
		regmap.In("fcSelfAlignEn", b, "PeriCfg10", "2"),
		regmap.In("fcClkDelayEn", b, "PeriCfg10", "3"),
		regmap.In("fcDataDelayEn", b, "PeriCfg10", "4"),
		regmap.In("chargeInjectionDelay", b, "PeriCfg10", "7-5"),
		regmap.Packed("emptySlotBCID", b, P{Register: "PeriCfg11", Bits: "7-0"}, P{Register: "PeriCfg12", Bits: "3-0"}),
		regmap.In("BCIDoffset_lo", b, "PeriCfg12", "7-4"),
		regmap.In("asyAlignFastcommand", b, "PeriCfg13", "0"),
		regmap.In("asyLinkReset", b, "PeriCfg13", "1"),
		regmap.In("asyPLLReset", b, "PeriCfg13", "2"),
		regmap.In("asyResetChargeInj", b, "PeriCfg13", "3"),
		regmap.In("asyResetFastcommand", b, "PeriCfg13", "4"),
		regmap.In("asyResetGlobalReadout", b, "PeriCfg13", "5"),
		regmap.In("asyResetLockDetect", b, "PeriCfg13", "6"),
		regmap.In("asyStartCalibration", b, "PeriCfg13", "7"),
		regmap.In("readoutClockDelayPixel", b, "PeriCfg14", "4-0"),
		regmap.In("readoutClockWidthPixel", b, "PeriCfg15", "4-0"),
		regmap.In("readoutClockDelayGlobal", b, "PeriCfg16", "4-0"),
		regmap.In("readoutClockWidthGlobal", b, "PeriCfg17", "4-0"),
		regmap.In("serRateLeft", b, "PeriCfg19", "1-0"),
		regmap.In("serRateRight", b, "PeriCfg19", "3-2"),
		regmap.In("linkResetTestPattern", b, "PeriCfg19", "4"),
		regmap.In("disScrambler", b, "PeriCfg19", "5"),
		regmap.In("triggerGranularity", b, "PeriCfg20", "2-0"),
		regmap.In("mergeTriggerData", b, "PeriCfg20", "3"),
		regmap.Packed("linkResetFixedPattern", b,
			P{Register: "PeriCfg21", Bits: "7-0"}, P{Register: "PeriCfg22", Bits: "7-0"}, P{Register: "PeriCfg23", Bits: "7-0"}, P{Register: "PeriCfg24", Bits: "7-0"}),
		regmap.In("lfLockThrCounter", b, "PeriCfg25", "3-0"),
		regmap.In("lfReLockThrCounter", b, "PeriCfg25", "7-4"),
		regmap.In("lfUnLockThrCounter", b, "PeriCfg26", "3-0"),
		regmap.In("TDCClockTest", b, "PeriCfg26", "4"),
		regmap.In("TDCStrobeTest", b, "PeriCfg26", "5"),
		regmap.Packed("EFuse_Prog", b,
			P{Register: "PeriCfg27", Bits: "7-0"}, P{Register: "PeriCfg28", Bits: "7-0"}, P{Register: "PeriCfg29", Bits: "7-0"}, P{Register: "PeriCfg30", Bits: "7-0"}),
		regmap.In("EFuse_EnClk", b, "PeriCfg31", "0"),
		regmap.In("EFuse_Mode", b, "PeriCfg31", "2-1"),
		regmap.In("EFuse_Rstn", b, "PeriCfg31", "3"),
		regmap.In("EFuse_Start", b, "PeriCfg31", "4"),
		regmap.In("EFuse_Bypass", b, "PeriCfg31", "5"),
	}
}

func peripheralStatusFields() []regmap.Field {
	const b = "PeriSta"
	type P = regmap.Part
	return []regmap.Field{
		regmap.In("AFCBusy", b, "PeriSta0", "2"),
		regmap.In("AFCcalValue", b, "PeriSta0", "6-3"),
		regmap.In("PS_Late", b, "PeriSta0", "7"),
		regmap.In("fcAlignFinalState", b, "PeriSta1", "3-0"),
		regmap.In("controllerState", b, "PeriSta1", "7-4"),
		regmap.In("fcAlignStatus", b, "PeriSta2", "7-4"),
		regmap.In("fcBitAlignError", b, "PeriSta2", "0"),
		regmap.Packed("invalidFCCount", b, P{Register: "PeriSta6", Bits: "7-0"}, P{Register: "PeriSta7", Bits: "3-0"}),
		regmap.Packed("pllUnlockCount", b, P{Register: "PeriSta7", Bits: "7-4"}, P{Register: "PeriSta8", Bits: "7-0"}),
		regmap.Packed("EFuseQ", b,
			P{Register: "PeriSta9", Bits: "7-0"}, P{Register: "PeriSta10", Bits: "7-0"}, P{Register: "PeriSta11", Bits: "7-0"}, P{Register: "PeriSta12", Bits: "7-0"}),
	}
}

func pixelFields() []regmap.Field {
	const b = "PixCfg"
	type P = regmap.Part
	return []regmap.Field{
		regmap.In("CLSel", b, "PixCfg0", "1-0"),
		regmap.In("IBSel", b, "PixCfg0", "4-2"),
		regmap.In("RfSel", b, "PixCfg0", "6-5"),
		regmap.In("HysSel", b, "PixCfg1", "3-0"),
		regmap.In("PD_DACDiscri", b, "PixCfg1", "4"),
		regmap.In("QInjEn", b, "PixCfg1", "5"),
		regmap.In("QSel", b, "PixCfg2", "4-0"),
		regmap.In("autoReset_TDC", b, "PixCfg2", "5"),
		regmap.Packed("DAC", b, P{Register: "PixCfg3", Bits: "7-0"}, P{Register: "PixCfg4", Bits: "1-0"}),
		regmap.In("TH_offset", b, "PixCfg4", "7-2"),
		regmap.In("TDC_enable", b, "PixCfg5", "0"),
		regmap.In("testMode_TDC", b, "PixCfg5", "1"),
		regmap.In("polaritySel_TDC", b, "PixCfg5", "2"),
		regmap.In("workMode", b, "PixCfg5", "4-3"),
		regmap.In("Bypass_THCal", b, "PixCfg5", "5"),
		regmap.In("disDataReadout", b, "PixCfg6", "0"),
		regmap.In("disTrigPath", b, "PixCfg6", "1"),
		regmap.In("ScanStart_THCal", b, "PixCfg6", "2"),
		regmap.In("RSTn_THCal", b, "PixCfg6", "3"),
		regmap.In("selfTestOccupancy", b, "PixCfg7", "6-0"),
		regmap.Packed("L1Adelay", b, P{Register: "PixCfg8", Bits: "7-0"}, P{Register: "PixCfg9", Bits: "0"}),
		regmap.Packed("lowerTOA", b, P{Register: "PixCfg9", Bits: "7-1"}, P{Register: "PixCfg10", Bits: "2-0"}),
		regmap.Packed("upperTOA", b, P{Register: "PixCfg10", Bits: "7-3"}, P{Register: "PixCfg11", Bits: "4-0"}),
		regmap.Packed("lowerTOT", b, P{Register: "PixCfg11", Bits: "7-5"}, P{Register: "PixCfg12", Bits: "5-0"}),
		regmap.Packed("upperTOT", b, P{Register: "PixCfg12", Bits: "7-6"}, P{Register: "PixCfg13", Bits: "6-0"}),
		regmap.In("lowerCal", b, "PixCfg14", "7-0"),
		regmap.In("upperCal", b, "PixCfg15", "7-0"),
	}
}

func pixelStatusFields() []regmap.Field {
	const b = "PixSta"
	type P = regmap.Part
	return []regmap.Field{
		regmap.In("ScanDone", b, "PixSta0", "0"),
		regmap.Packed("BL", b, P{Register: "PixSta1", Bits: "7-0"}, P{Register: "PixSta2", Bits: "1-0"}),
		regmap.In("NW", b, "PixSta2", "5-2"),
		regmap.Packed("TH", b, P{Register: "PixSta3", Bits: "7-0"}, P{Register: "PixSta4", Bits: "1-0"}),
		regmap.Packed("ACC", b, P{Register: "PixSta5", Bits: "7-0"}, P{Register: "PixSta6", Bits: "7-0"}),
		regmap.In("PixelID", b, "PixSta7", "7-0"),
	}
}

func mainSpace() regmap.AddressSpace {
	var fields []regmap.Field
	fields = append(fields, peripheralFields()...)
	fields = append(fields, peripheralStatusFields()...)
	fields = append(fields, pixelFields()...)
	fields = append(fields, pixelStatusFields()...)

	return regmap.AddressSpace{
		Name: "main",
		Size: 0x10000,
		Wire: regbus.Frame{AddressBits: 16, RegisterBits: 8},
		Blocks: []regmap.Block{
			{Name: "PeriCfg", Base: PeriConfigBase, Registers: regmap.Numbered("PeriCfg", 32, periDefaults...)},
			{Name: "PeriSta", Base: PeriStatusBase, Registers: regmap.ReadOnly(regmap.Numbered("PeriSta", 16))},
			{
				Name:         "PixCfg",
				Indexers:     pixelIndexers,
				Addresser:    regmap.LinearAddresser(PixelConfigBase, rowStride, colStride),
				BroadcastBit: BroadcastBit,
				Registers:    regmap.Numbered("PixCfg", 16, pixelDefaults...),
			},
			{
				Name:      "PixSta",
				Indexers:  pixelIndexers,
				Addresser: regmap.LinearAddresser(PixelStatusBase, rowStride, colStride),
				Registers: regmap.ReadOnly(regmap.Numbered("PixSta", 8)),
			},
		},
		Fields: fields,
	}
}

func wsSpace() regmap.AddressSpace {
	const b = "WSCfg"
	type P = regmap.Part
	return regmap.AddressSpace{
		Name: "ws",
		Size: 0x40,
		Wire: regbus.Frame{AddressBits: 16, RegisterBits: 8},
		Blocks: []regmap.Block{
			{Name: b, Base: 0x00, Registers: regmap.Numbered("WSCfg", 8, 0x00, 0x00, 0x00, 0x00)},
			{Name: "WSSta", Base: 0x20, Registers: regmap.ReadOnly(regmap.Numbered("WSSta", 4))},
		},
		Fields: []regmap.Field{
			regmap.In("ws_en", b, "WSCfg0", "0"),
			regmap.In("ws_start", b, "WSCfg0", "1"),
			regmap.In("ws_mode", b, "WSCfg0", "3-2"),
			regmap.In("ws_trig_delay", b, "WSCfg1", "5-0"),
			regmap.Packed("ws_sel", b, P{Register: "WSCfg2", Bits: "7-0"}, P{Register: "WSCfg3", Bits: "1-0"}),
			regmap.In("ws_clk_div", b, "WSCfg4", "3-0"),
			regmap.In("ws_busy", "WSSta", "WSSta0", "0"),
			regmap.In("ws_done", "WSSta", "WSSta0", "1"),
			regmap.Packed("ws_fill", "WSSta", P{Register: "WSSta1", Bits: "7-0"}, P{Register: "WSSta2", Bits: "3-0"}),
		},
	}
}

// Map returns a fresh copy of the ETROC2 register map. Neither space has a
// fixed I²C address; the board straps select it.
func Map() *regmap.Chip {
	return &regmap.Chip{
		Name:    Name,
		Version: Version,
		Spaces:  []regmap.AddressSpace{mainSpace(), wsSpace()},
	}
}
