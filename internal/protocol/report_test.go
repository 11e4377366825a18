package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReport(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected Report
	}{
		{
			name:     "session identification",
			data:     []byte{0x11, 0xff, 0x00, 0x1d, 0x00},
			expected: Report{Kind: ReportSession, Session: 0x0d},
		},
		{
			name:     "gkey bitmask",
			data:     []byte{0x11, 0xff, 0x0a, 0x00, 0x05},
			expected: Report{Kind: ReportGKeys, Bitmask: 0x05},
		},
		{
			name:     "mode key bitmask",
			data:     []byte{0x11, 0xff, 0x0b, 0x00, 0x02},
			expected: Report{Kind: ReportModeKeys, Bitmask: 0x02},
		},
		{
			name:     "macro record key",
			data:     []byte{0x11, 0xff, 0x0c, 0x00, 0x01},
			expected: Report{Kind: ReportMacroRecord, Bitmask: 0x01},
		},
		{
			name:     "brightness level",
			data:     []byte{0x11, 0xff, 0x0d, 0x00, 0x00, 0x64},
			expected: Report{Kind: ReportBrightness, Brightness: 0x64},
		},
		{
			name:     "media keys",
			data:     []byte{0x03, 0x10},
			expected: Report{Kind: ReportMediaKeys, Bitmask: 0x10},
		},
		{
			name:     "effect cycle notification stays unknown",
			data:     []byte{0x11, 0xff, 0x0f, 0x10, 0x01},
			expected: Report{Kind: ReportUnknown},
		},
		{
			name:     "non-vendor report stays unknown",
			data:     []byte{0x01, 0x02, 0x03, 0x04},
			expected: Report{Kind: ReportUnknown},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := DecodeReport(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.expected.Kind, r.Kind)
			assert.Equal(t, tc.expected.Session, r.Session)
			assert.Equal(t, tc.expected.Bitmask, r.Bitmask)
			assert.Equal(t, tc.expected.Brightness, r.Brightness)
			assert.Equal(t, tc.data, r.Raw, "raw bytes must pass through")
		})
	}
}

func TestDecodeReportEmpty(t *testing.T) {
	_, err := DecodeReport(nil)
	require.ErrorIs(t, err, ErrShortReport)
}

func TestReportAcks(t *testing.T) {
	f := MustEncode(CmdCommit, 0x0a, nil)
	ack, err := DecodeReport([]byte{0x11, 0xff, 0x10, 0x7a, 0x00})
	require.NoError(t, err)
	assert.True(t, ack.Acks(f))

	other, err := DecodeReport([]byte{0x11, 0xff, 0x0f, 0x1a, 0x00})
	require.NoError(t, err)
	assert.False(t, other.Acks(f))
}
