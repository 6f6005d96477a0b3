package solbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestErrorAnalyzer_ParseAnchorErrorLog(t *testing.T) {
	ea := NewErrorAnalyzer(zaptest.NewLogger(t))

	got := ea.parseAnchorErrorLog("Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported.")
	assert.Equal(t, AnchorError{Code: 101, Name: "InstructionFallbackNotFound", Msg: "Fallback functions are not supported"}, got)

	assert.Equal(t, AnchorError{}, ea.parseAnchorErrorLog("Program log: Instruction: Buy"))
}

func TestErrorAnalyzer_RevertReason(t *testing.T) {
	ea := NewErrorAnalyzer(zaptest.NewLogger(t))

	tests := []struct {
		name  string
		txErr interface{}
		logs  []string
		want  string
	}{
		{
			name:  "program error log",
			txErr: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			logs:  []string{"Program log: Instruction: Transfer", "Program log: Error: insufficient funds"},
			want:  "insufficient funds",
		},
		{
			name:  "raw instruction error",
			txErr: "AccountInUse",
			want:  `"AccountInUse"`,
		},
		{
			name: "nothing to report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ea.RevertReason(tt.txErr, tt.logs))
		})
	}
}

func TestErrorAnalyzer_ExhaustedCompute(t *testing.T) {
	ea := NewErrorAnalyzer(zaptest.NewLogger(t))

	assert.True(t, ea.ExhaustedCompute(nil, []string{"Program X failed: exceeded CUs meter at BPF instruction #9"}))
	assert.True(t, ea.ExhaustedCompute(map[string]interface{}{"InstructionError": []interface{}{0, "ComputationalBudgetExceeded"}}, nil))
	assert.False(t, ea.ExhaustedCompute(map[string]interface{}{"InstructionError": []interface{}{0, "InvalidArgument"}}, nil))
}
