package escpos

const rasterHeaderLen = 8

// FindRaster locates the first GS v 0 fragment at or after from. end is
// exclusive and is clipped to len(buf) for truncated payloads.
func FindRaster(buf []byte, from int) (start, end int, ok bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i+rasterHeaderLen <= len(buf); i++ {
		if buf[i] != GS || buf[i+1] != 'v' || buf[i+2] != '0' {
			continue
		}
		stride := int(buf[i+4]) | int(buf[i+5])<<8
		rows := int(buf[i+6]) | int(buf[i+7])<<8
		end = i + rasterHeaderLen + stride*rows
		if end > len(buf) {
			end = len(buf)
		}
		return i, end, true
	}
	return 0, 0, false
}

// Segments splits buf into alternating command and raster runs. Each raster
// fragment is its own segment; empty runs are omitted.
func Segments(buf []byte) [][]byte {
	var segs [][]byte
	pos := 0
	for pos < len(buf) {
		start, end, ok := FindRaster(buf, pos)
		if !ok {
			break
		}
		if start > pos {
			segs = append(segs, buf[pos:start])
		}
		segs = append(segs, buf[start:end])
		pos = end
	}
	if pos < len(buf) {
		segs = append(segs, buf[pos:])
	}
	return segs
}
