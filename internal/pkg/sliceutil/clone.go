package sliceutil

// Strings returns a copy of the string slice.
func Strings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// Floats returns a copy of the float64 slice.
// 行情快照中的价格/成交量序列对外只暴露副本。
func Floats(src []float64) []float64 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}
