package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipproof-backend/internal/common/errors"
)

func TestNormalizeFileHash_Accepts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", strings.Repeat("a", 64), strings.Repeat("a", 64)},
		{"uppercase", strings.Repeat("F", 64), strings.Repeat("f", 64)},
		{"mixed case digits", strings.Repeat("0aB9", 16), strings.Repeat("0ab9", 16)},
		{
			"real digest",
			"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855",
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeFileHash(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsValidFileHash(tt.input))
		})
	}
}

func TestNormalizeFileHash_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", strings.Repeat("a", 63)},
		{"too long", strings.Repeat("a", 65)},
		{"non hex", strings.Repeat("g", 64)},
		{"whitespace padded", " " + strings.Repeat("a", 63)},
		{"trailing newline", strings.Repeat("a", 64) + "\n"},
		{"0x prefix", "0x" + strings.Repeat("a", 62)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeFileHash(tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidHash))
			assert.False(t, IsValidFileHash(tt.input))
		})
	}
}

type sample struct {
	Hash     string  `json:"fileHash" validate:"required"`
	Size     int64   `json:"fileSize" validate:"required"`
	Optional *string `json:"optional,omitempty"`
}

func TestRequireFields(t *testing.T) {
	require.NoError(t, RequireFields(sample{Hash: "x", Size: 1}))

	err := RequireFields(sample{})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeMissingFields, appErr.Code)
	assert.ElementsMatch(t, []string{"fileHash", "fileSize"}, appErr.Details["fields"])
}
