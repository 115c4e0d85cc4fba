package protocol

import (
	"strconv"
)

// AppendTelemetry appends rec to dst as one telemetry line in the variant's
// wire format.
func AppendTelemetry(dst []byte, v Variant, rec TelemetryRecord) []byte {
	dst = append(dst, v.TelemetryPrefix...)
	dst = strconv.AppendInt(dst, rec.Timestamp, 10)
	ch := rec.Channels()
	for i, f := range ch {
		sep := byte(',')
		if v.Separator == SeparatorPipe && (i == 0 || i == 3) {
			sep = '|'
		}
		dst = append(dst, sep)
		dst = strconv.AppendFloat(dst, f, 'f', -1, 64)
	}
	return append(dst, '\n')
}

// AppendFrame appends a complete frame unit (header, payload and, for
// FooterMarker variants, the blank line and end marker) to dst.
func AppendFrame(dst []byte, v Variant, hdr FrameHeader, payload []byte) []byte {
	v = v.WithDefaults()
	dst = append(dst, v.FrameStart...)
	if v.Header == HeaderInline {
		dst = append(dst, ',')
	} else {
		dst = append(dst, '\n')
	}
	dst = strconv.AppendInt(dst, hdr.Timestamp, 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(hdr.DeclaredLength), 10)
	dst = append(dst, '\n')
	dst = append(dst, payload...)
	if v.Footer == FooterMarker {
		dst = append(dst, '\n')
		dst = append(dst, v.FrameEnd...)
		dst = append(dst, '\n')
	}
	return dst
}

// AppendControl appends a control marker line.
func AppendControl(dst []byte, marker string) []byte {
	dst = append(dst, marker...)
	return append(dst, '\n')
}
