package transport

import "github.com/Schera-ole/telemetry-agent/internal/pool"

// frameStream renders lines as one newline-terminated stream payload.
func frameStream(buf *pool.Buffer, lines []string) [][]byte {
	if len(lines) == 0 {
		return nil
	}
	total := 0
	for _, line := range lines {
		total += len(line) + 1
	}
	buf.Grow(total)
	for _, line := range lines {
		buf.B = append(buf.B, line...)
		buf.B = append(buf.B, '\n')
	}
	return [][]byte{buf.B}
}

// packDatagrams packs newline-separated lines into payloads of at most max
// bytes, preserving order. A line longer than max travels alone. Every
// payload is a slice of buf, so they all share one backing array.
func packDatagrams(buf *pool.Buffer, lines []string, max int) [][]byte {
	if len(lines) == 0 {
		return nil
	}
	total := 0
	for _, line := range lines {
		total += len(line) + 1
	}
	buf.Grow(total)

	var frames [][]byte
	start := len(buf.B)
	for _, line := range lines {
		size := len(buf.B) - start
		if size > 0 && size+1+len(line) > max {
			frames = append(frames, buf.B[start:len(buf.B):len(buf.B)])
			start = len(buf.B)
			size = 0
		}
		if size > 0 {
			buf.B = append(buf.B, '\n')
		}
		buf.B = append(buf.B, line...)
	}
	if len(buf.B) > start {
		frames = append(frames, buf.B[start:len(buf.B):len(buf.B)])
	}
	return frames
}
