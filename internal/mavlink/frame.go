package mavlink

import "bufio"

const (
	MagicV1 = 0xFE
	MagicV2 = 0xFD

	// STX, len, seq, sysid, compid, msgid, checksum
	overheadV1 = 8
	// STX, len, incompat, compat, seq, sysid, compid, msgid(3), checksum
	overheadV2 = 12

	signatureLen   = 13
	incompatSigned = 0x01

	// HeaderLen is the number of leading bytes FrameLength needs
	HeaderLen = 3
)

// FrameLength returns the total length of the frame starting at header[0].
// It reports false when header is too short or does not start with a magic byte.
func FrameLength(header []byte) (int, bool) {
	if len(header) < 2 {
		return 0, false
	}
	switch header[0] {
	case MagicV1:
		return int(header[1]) + overheadV1, true
	case MagicV2:
		if len(header) < HeaderLen {
			return 0, false
		}
		n := int(header[1]) + overheadV2
		if header[2]&incompatSigned != 0 {
			n += signatureLen
		}
		return n, true
	default:
		return 0, false
	}
}

// SplitFrames returns a bufio.SplitFunc that yields one MAVLink frame per
// token. Bytes before a magic marker are discarded. A candidate that check
// rejects is line noise that happened to contain a magic byte: only that byte
// is skipped, so a real frame starting inside the candidate is still found.
// A candidate check cannot verify is only accepted when another magic byte or
// the end of the stream follows it. A nil check accepts every candidate.
func SplitFrames(check func(frame []byte) (ok, verified bool)) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}

		start := -1
		for i, b := range data {
			if b == MagicV1 || b == MagicV2 {
				start = i
				break
			}
		}
		if start < 0 {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}

		n, ok := FrameLength(data)
		if !ok || len(data) < n {
			if atEOF {
				// Truncated trailing frame or a stray magic byte near the end
				return 1, nil, nil
			}
			return 0, nil, nil
		}
		if check == nil {
			return n, data[:n], nil
		}

		ok, verified := check(data[:n])
		if !ok {
			return 1, nil, nil
		}
		if !verified {
			switch {
			case len(data) == n && !atEOF:
				return 0, nil, nil
			case len(data) > n && data[n] != MagicV1 && data[n] != MagicV2:
				return 1, nil, nil
			}
		}
		return n, data[:n], nil
	}
}
