// Package etroc1 declares the register map of the ETROC1 4x4 pixel
// prototype.
package etroc1

import (
	"fmt"
	"strconv"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regmap"
)

const (
	Name    = "ETROC1"
	Version = "1.0"

	Pixels = 16

	thresholdBits = 10
	thresholdReg  = 6
)

var regADefaults = []uint64{
	0xF8, 0x37, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x02,
	0x08, 0x20, 0x80, 0x00, 0x02, 0x08, 0x20, 0x80,
	0x00, 0x02, 0x08, 0x20, 0x80, 0x00, 0x02, 0x08,
	0x20, 0x80, 0x0B, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var regBDefaults = []uint64{
	0x1C, 0x01, 0x00, 0x09, 0x00, 0x03, 0x41, 0x38,
	0x18, 0x18, 0x38, 0x00,
}

// thresholds packs the 10-bit discriminator thresholds of all pixels back
// to back, least significant bit first, from RegA6 onwards.
func thresholds(block string) []regmap.Field {
	var fields []regmap.Field
	for px := 0; px < Pixels; px++ {
		var parts []regmap.Part
		for bit := px * thresholdBits; bit < (px+1)*thresholdBits; {
			reg, lo := bit/8, bit%8
			hi := 7
			if end := (px+1)*thresholdBits - 1; end-bit < hi-lo {
				hi = lo + end - bit
			}
			parts = append(parts, regmap.Part{
				Register: "RegA" + strconv.Itoa(thresholdReg+reg),
				Bits:     regmap.BitRange{Hi: hi, Lo: lo}.String(),
			})
			bit += hi - lo + 1
		}
		fields = append(fields, regmap.Packed(fmt.Sprintf("VTHIn%d", px), block, parts...))
	}
	return fields
}

func regAFields() []regmap.Field {
	const b = "RegA"
	type P = regmap.Part
	fields := []regmap.Field{
		regmap.In("CLSel", b, "RegA0", "1-0"),
		regmap.In("RfSel", b, "RegA0", "3-2"),
		regmap.In("HysSel", b, "RegA0", "7-4"),
		regmap.In("IBSel", b, "RegA1", "2-0"),
		regmap.In("QSel", b, "RegA1", "7-3"),
		regmap.Packed("EN_QInj", b, P{Register: "RegA2", Bits: "7-0"}, P{Register: "RegA3", Bits: "7-0"}),
		regmap.Packed("PD_DACDiscri", b, P{Register: "RegA4", Bits: "7-0"}, P{Register: "RegA5", Bits: "7-0"}),
		regmap.In("OE_DMRO_Row", b, "RegA26", "3-0"),
		regmap.In("DMRO_Col", b, "RegA26", "5-4"),
		regmap.In("RO_SEL", b, "RegA26", "6"),
		regmap.In("CLKOutSel", b, "RegA26", "7"),
		regmap.In("EN_DiscriOut", b, "RegA27", "7-0"),
		regmap.Packed("Dis_VTHInOut", b, P{Register: "RegA28", Bits: "7-0"}, P{Register: "RegA29", Bits: "7-0"}),
		regmap.Packed("TDC_en", b, P{Register: "RegA30", Bits: "7-0"}, P{Register: "RegA31", Bits: "7-0"}),
	}
	return append(fields, thresholds(b)...)
}

func regBFields() []regmap.Field {
	const b = "RegB"
	type P = regmap.Part
	return []regmap.Field{
		regmap.In("autoReset_TDC", b, "RegB0", "0"),
		regmap.In("enableMon_TDC", b, "RegB0", "1"),
		regmap.In("polaritySel_TDC", b, "RegB0", "2"),
		regmap.In("resetn_TDC", b, "RegB0", "3"),
		regmap.In("selRawCode_TDC", b, "RegB0", "4"),
		regmap.In("testMode_TDC", b, "RegB0", "5"),
		regmap.In("timeStampMode_TDC", b, "RegB0", "6"),
		regmap.In("level_TDC", b, "RegB1", "2-0"),
		regmap.Packed("offset_TDC", b, P{Register: "RegB1", Bits: "7-3"}, P{Register: "RegB2", Bits: "1-0"}),
		regmap.In("dllEnable", b, "RegB3", "0"),
		regmap.In("dllCapReset", b, "RegB3", "1"),
		regmap.In("dllCPCurrent", b, "RegB3", "5-2"),
		regmap.In("dllForceDown", b, "RegB3", "6"),
		regmap.In("PhaseAdj", b, "RegB4", "7-0"),
		regmap.In("RefStrSel", b, "RegB5", "7-0"),
		regmap.Packed("Dataout_AmpSel", b, P{Register: "RegB6", Bits: "7-0"}, P{Register: "RegB7", Bits: "0"}),
		regmap.In("CLK40_EnRx", b, "RegB8", "0"),
		regmap.In("CLK40_EnTer", b, "RegB8", "1"),
		regmap.In("CLK40_Equ", b, "RegB8", "3-2"),
		regmap.In("CLK40_InvData", b, "RegB8", "4"),
		regmap.In("CLK40_SetCM", b, "RegB8", "5"),
		regmap.In("CLK320_EnRx", b, "RegB9", "0"),
		regmap.In("CLK320_EnTer", b, "RegB9", "1"),
		regmap.In("CLK320_Equ", b, "RegB9", "3-2"),
		regmap.In("CLK320_InvData", b, "RegB9", "4"),
		regmap.In("CLK320_SetCM", b, "RegB9", "5"),
		regmap.In("GRO_TOARST_N", b, "RegB10", "0"),
		regmap.In("GRO_Start", b, "RegB10", "1"),
		regmap.In("GRO_TOA_CK", b, "RegB10", "2"),
		regmap.In("GRO_TOT_CK", b, "RegB10", "3"),
		regmap.In("GRO_TOTRST_N", b, "RegB10", "4"),
		regmap.In("GRO_TOA_Latch", b, "RegB10", "5"),
		regmap.In("dmRO_Sel", b, "RegB11", "1-0"),
	}
}

// Map returns a fresh copy of the ETROC1 register map.
func Map() *regmap.Chip {
	fields := append(regAFields(), regBFields()...)
	return &regmap.Chip{
		Name:    Name,
		Version: Version,
		Spaces: []regmap.AddressSpace{{
			Name: "main",
			Size: 0x40,
			Wire: regbus.Frame{AddressBits: 8, RegisterBits: 8},
			Blocks: []regmap.Block{
				{Name: "RegA", Base: 0x00, Registers: regmap.Numbered("RegA", 32, regADefaults...)},
				{Name: "RegB", Base: 0x20, Registers: regmap.Numbered("RegB", 12, regBDefaults...)},
			},
			Fields: fields,
		}},
	}
}
