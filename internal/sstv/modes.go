package sstv

import "time"

// ColorModel identifies how a mode's scanned channels map to RGB.
type ColorModel int

const (
	// ColorModelRobotYCbCr is Robot's luma/chroma scheme with black level
	// 16 and white level 235 (studio range), chroma subsampled 2:1 in time.
	ColorModelRobotYCbCr ColorModel = iota
	// ColorModelGBR is Martin/Scottie's direct green-blue-red scan order.
	ColorModelGBR
	// ColorModelPDYCbCr is PD's YCbCr 4:2:0 scheme with two-line chroma
	// subsampling (one chroma pair shared by two luma lines).
	ColorModelPDYCbCr
)

// Channel describes one scanned component within a scanline.
type Channel struct {
	Name     string // "Y", "Cb", "Cr", "G", "B", "R"
	Duration time.Duration
}

// Mode is a decoded VIS-code parameter record.
type Mode struct {
	Code          byte
	Name          string
	Width         int
	Height        int
	ColorModel    ColorModel
	SyncDuration  time.Duration // horizontal sync pulse, ~9ms for Robot/Martin
	PorchDuration time.Duration
	Channels      []Channel // per-scanline channel order and durations

	// TwoLinePD is true for PD modes, where one chroma sample pair covers
	// two successive luma lines.
	TwoLinePD bool
}

// modeTable covers Robot 36/72, Martin M1/M2, Scottie S1/S2, and
// PD-90/120/160/180/240/290.
var modeTable = map[byte]Mode{
	0x08: {
		Code: 0x08, Name: "Robot 36", Width: 320, Height: 240,
		ColorModel: ColorModelRobotYCbCr,
		SyncDuration: 9 * time.Millisecond, PorchDuration: 3 * time.Millisecond,
		Channels: []Channel{
			{"Y", 88 * time.Millisecond},
			{"C", 44 * time.Millisecond}, // Cr on even lines, Cb on odd — resolved at scan time
		},
	},
	0x0C: {
		Code: 0x0C, Name: "Robot 72", Width: 320, Height: 240,
		ColorModel: ColorModelRobotYCbCr,
		SyncDuration: 9 * time.Millisecond, PorchDuration: 3 * time.Millisecond,
		Channels: []Channel{
			{"Y", 138 * time.Millisecond},
			{"Cb", 69 * time.Millisecond},
			{"Cr", 69 * time.Millisecond},
		},
	},
	0x2C: {
		Code: 0x2C, Name: "Martin M1", Width: 320, Height: 256,
		ColorModel: ColorModelGBR,
		SyncDuration: 4862 * time.Microsecond, PorchDuration: 572 * time.Microsecond,
		Channels: []Channel{
			{"G", 146432 * time.Microsecond},
			{"B", 146432 * time.Microsecond},
			{"R", 146432 * time.Microsecond},
		},
	},
	0x28: {
		Code: 0x28, Name: "Martin M2", Width: 320, Height: 256,
		ColorModel: ColorModelGBR,
		SyncDuration: 4862 * time.Microsecond, PorchDuration: 572 * time.Microsecond,
		Channels: []Channel{
			{"G", 73216 * time.Microsecond},
			{"B", 73216 * time.Microsecond},
			{"R", 73216 * time.Microsecond},
		},
	},
	0x3C: {
		Code: 0x3C, Name: "Scottie S1", Width: 320, Height: 256,
		ColorModel: ColorModelGBR,
		SyncDuration: 9 * time.Millisecond, PorchDuration: 1500 * time.Microsecond,
		Channels: []Channel{
			{"G", 138240 * time.Microsecond},
			{"B", 138240 * time.Microsecond},
			{"R", 138240 * time.Microsecond},
		},
	},
	0x38: {
		Code: 0x38, Name: "Scottie S2", Width: 320, Height: 256,
		ColorModel: ColorModelGBR,
		SyncDuration: 9 * time.Millisecond, PorchDuration: 1500 * time.Microsecond,
		Channels: []Channel{
			{"G", 88064 * time.Microsecond},
			{"B", 88064 * time.Microsecond},
			{"R", 88064 * time.Microsecond},
		},
	},
	0x63: {
		Code: 0x63, Name: "PD-90", Width: 320, Height: 256,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 91520 * time.Microsecond},
			{"Cr", 91520 * time.Microsecond},
			{"Cb", 91520 * time.Microsecond},
			{"Y2", 91520 * time.Microsecond},
		},
	},
	0x5F: {
		Code: 0x5F, Name: "PD-120", Width: 640, Height: 496,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 121600 * time.Microsecond},
			{"Cr", 121600 * time.Microsecond},
			{"Cb", 121600 * time.Microsecond},
			{"Y2", 121600 * time.Microsecond},
		},
	},
	0x62: {
		Code: 0x62, Name: "PD-160", Width: 512, Height: 400,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 195584 * time.Microsecond},
			{"Cr", 195584 * time.Microsecond},
			{"Cb", 195584 * time.Microsecond},
			{"Y2", 195584 * time.Microsecond},
		},
	},
	0x60: {
		Code: 0x60, Name: "PD-180", Width: 640, Height: 496,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 183040 * time.Microsecond},
			{"Cr", 183040 * time.Microsecond},
			{"Cb", 183040 * time.Microsecond},
			{"Y2", 183040 * time.Microsecond},
		},
	},
	0x61: {
		Code: 0x61, Name: "PD-240", Width: 640, Height: 496,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 244480 * time.Microsecond},
			{"Cr", 244480 * time.Microsecond},
			{"Cb", 244480 * time.Microsecond},
			{"Y2", 244480 * time.Microsecond},
		},
	},
	0x5E: {
		Code: 0x5E, Name: "PD-290", Width: 800, Height: 616,
		ColorModel: ColorModelPDYCbCr, TwoLinePD: true,
		SyncDuration: 20 * time.Millisecond, PorchDuration: 2080 * time.Microsecond,
		Channels: []Channel{
			{"Y1", 228800 * time.Microsecond},
			{"Cr", 228800 * time.Microsecond},
			{"Cb", 228800 * time.Microsecond},
			{"Y2", 228800 * time.Microsecond},
		},
	},
}

// lookupMode returns the mode for a VIS code, or ok=false for an unknown
// code (an unknown_mode failure).
func lookupMode(code byte) (Mode, bool) {
	m, ok := modeTable[code]
	return m, ok
}
