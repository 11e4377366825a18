package protocol

// Interrupt report classification. The protocol is only partially understood:
// anything that does not match a known shape is returned as ReportUnknown with
// its raw bytes intact rather than rejected.

// Feature ids observed in interrupt reports. These are the device's usual
// capability ids; strictly they are assigned per firmware and would have to be
// discovered through CmdCapabilityInfo, but every G815 seen so far uses these.
const (
	FeatureRoot        byte = 0x00
	FeatureGKeys       byte = 0x0a
	FeatureModeKeys    byte = 0x0b
	FeatureMacroRecord byte = 0x0c
	FeatureBrightness  byte = 0x0d
)

// mediaReportID prefixes the short media-key bitmask reports that arrive
// outside the 11 ff framing.
const mediaReportID = 0x03

type ReportKind uint8

const (
	ReportUnknown ReportKind = iota
	ReportSession
	ReportGKeys
	ReportModeKeys
	ReportMacroRecord
	ReportBrightness
	ReportMediaKeys
)

func (k ReportKind) String() string {
	switch k {
	case ReportSession:
		return "session"
	case ReportGKeys:
		return "gkeys"
	case ReportModeKeys:
		return "mode-keys"
	case ReportMacroRecord:
		return "macro-record"
	case ReportBrightness:
		return "brightness"
	case ReportMediaKeys:
		return "media-keys"
	default:
		return "unknown"
	}
}

// Report is a classified interrupt report.
type Report struct {
	Kind ReportKind

	// Session carries the session nibble for ReportSession.
	Session byte
	// Bitmask carries the current key state for the bitmask kinds
	// (ReportGKeys, ReportModeKeys, ReportMacroRecord, ReportMediaKeys).
	Bitmask byte
	// Brightness carries the reported level percentage for ReportBrightness.
	Brightness byte

	// Raw is the full report as read from the device.
	Raw []byte
}

// DecodeReport classifies an interrupt report. Reports shorter than one byte
// return ErrShortReport; everything else succeeds, falling back to
// ReportUnknown.
func DecodeReport(data []byte) (Report, error) {
	r := Report{Kind: ReportUnknown, Raw: data}
	if len(data) == 0 {
		return r, ErrShortReport
	}
	if data[0] == mediaReportID && len(data) >= 2 {
		r.Kind = ReportMediaKeys
		r.Bitmask = data[1]
		return r, nil
	}
	if len(data) < 4 || data[0] != magic0 || data[1] != magic1 {
		return r, nil
	}
	feature, cmd := data[2], data[3]
	switch feature {
	case FeatureRoot:
		// Session identification: 11 ff 00 1X where X is the new nibble.
		if cmd&0xf0 == 0x10 {
			r.Kind = ReportSession
			r.Session = cmd & 0x0f
		}
	case FeatureGKeys, FeatureModeKeys, FeatureMacroRecord:
		if len(data) >= 5 {
			switch feature {
			case FeatureGKeys:
				r.Kind = ReportGKeys
			case FeatureModeKeys:
				r.Kind = ReportModeKeys
			default:
				r.Kind = ReportMacroRecord
			}
			r.Bitmask = data[4]
		}
	case FeatureBrightness:
		if len(data) >= 6 {
			r.Kind = ReportBrightness
			r.Brightness = data[5]
		}
	}
	return r, nil
}

// Acks reports whether this report is the device's acknowledgement echo of
// the given frame (first four bytes mirrored back).
func (r Report) Acks(f Frame) bool {
	if len(r.Raw) < 4 {
		return false
	}
	return r.Raw[0] == f[0] && r.Raw[1] == f[1] && r.Raw[2] == f[2] && r.Raw[3] == f[3]
}
