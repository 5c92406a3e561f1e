package limits

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"empty", nil, 10, ErrMessageEmpty},
		{"at limit", bytes.Repeat([]byte{1}, 10), 10, nil},
		{"over limit", bytes.Repeat([]byte{1}, 11), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateText(t *testing.T) {
	assert.ErrorIs(t, ValidateText(""), ErrMessageEmpty)
	assert.NoError(t, ValidateText("hello"))
	assert.ErrorIs(t, ValidateText(strings.Repeat("x", MaxTextMessage+1)), ErrMessageTooLarge)
}

func TestValidateFrameLength(t *testing.T) {
	assert.ErrorIs(t, ValidateFrameLength(0, 100), ErrMessageEmpty)
	assert.NoError(t, ValidateFrameLength(100, 100))
	assert.ErrorIs(t, ValidateFrameLength(101, 100), ErrMessageTooLarge)

	// A non-positive limit disables the check.
	assert.NoError(t, ValidateFrameLength(1<<31, 0))
}

func TestDefaultsAreConsistent(t *testing.T) {
	assert.LessOrEqual(t, DefaultChunkSize, MaxChunkSize)
	// base64 expands by 4/3; a default chunk must fit a default frame.
	assert.Less(t, DefaultChunkSize*4/3+1024, DefaultMaxFrameBytes)
}
