package partition

import (
	"bytes"
)

const (
	gptSignature = "EFI PART"

	// mbrTypeGPTProtective marks an MBR that only guards a GPT
	mbrTypeGPTProtective = 0xEE
)

func IsGPTTable(d []byte) bool {
	gptSignatureBytes := []byte(gptSignature)
	if len(d) < len(gptSignatureBytes) {
		return false
	}
	return bytes.Equal(d[:len(gptSignatureBytes)], gptSignatureBytes)
}
