package xlsxparser

import (
	"os"
	"strconv"
)

func itoa(n int) string { return strconv.Itoa(n) }

func writeBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
